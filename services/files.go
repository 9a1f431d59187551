package services

import (
	"context"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"strings"

	"github.com/gabriel-vasile/mimetype"
	"github.com/sirupsen/logrus"

	"pivotaltoshortcut/models"
	"pivotaltoshortcut/utils"
)

// FileUploader はファイルをShortcutにアップロードします
type FileUploader interface {
	UploadFile(ctx context.Context, path string) (*models.UploadedFile, error)
}

// FileResult はバッチ内の添付ファイル処理の結果です
type FileResult struct {
	Ready       []*models.EntityRecord
	Failed      []*models.EntityRecord
	Uploaded    []*models.UploadedFile
	FailedFiles []models.FailedFile
}

// FileProcessor はストーリー作成前にコメントの添付ファイルをアップロードし、
// コメント本文にMarkdownのリンクを追記します。
// uploader が nil の場合はドライランとして偽のURLを使います。
type FileProcessor struct {
	dataDir  string
	uploader FileUploader
	ledger   *Ledger
	failures *FailureLog
	log      *logrus.Entry
}

// NewFileProcessor は添付ファイル処理を作成します。
// ledger と failures は実際にアップロードする場合にのみ使われます。
func NewFileProcessor(dataDir string, uploader FileUploader, ledger *Ledger, failures *FailureLog, log *logrus.Entry) *FileProcessor {
	return &FileProcessor{
		dataDir:  dataDir,
		uploader: uploader,
		ledger:   ledger,
		failures: failures,
		log:      log,
	}
}

func (p *FileProcessor) dryRun() bool {
	return p.uploader == nil
}

// Process はバッチ内の各ストーリーの添付ファイルを処理します。
// 1ファイルでも失敗したストーリーは Failed に入り、作成対象から外れます。
func (p *FileProcessor) Process(ctx context.Context, batch []*models.EntityRecord) FileResult {
	var res FileResult
	for _, rec := range batch {
		story := rec.Story()
		if story == nil {
			res.Ready = append(res.Ready, rec)
			continue
		}

		dir := filepath.Join(p.dataDir, story.ExternalID)
		if story.ExternalID == "" || !isDir(dir) {
			res.Ready = append(res.Ready, rec)
			continue
		}

		uploaded, failed := p.processStory(ctx, rec, story, dir)
		res.Uploaded = append(res.Uploaded, uploaded...)
		if len(failed) > 0 {
			res.FailedFiles = append(res.FailedFiles, failed...)
			res.Failed = append(res.Failed, rec)
			continue
		}
		res.Ready = append(res.Ready, rec)
	}

	if !p.dryRun() && p.failures != nil {
		if err := p.failures.WriteFailedFiles(res.FailedFiles); err != nil {
			p.log.WithError(err).Error("失敗ファイルCSVの書き込みに失敗しました")
		}
	}
	return res
}

func (p *FileProcessor) processStory(ctx context.Context, rec *models.EntityRecord, story *models.StoryPayload, dir string) ([]*models.UploadedFile, []models.FailedFile) {
	log := p.log.WithField("story", story.ExternalID)
	files, err := listFiles(dir)
	if err != nil {
		msg := fmt.Sprintf("添付フォルダの読み取りに失敗しました: %v", err)
		rec.ErrorMessage = msg
		return nil, []models.FailedFile{{StoryID: story.ExternalID, Filename: dir, Error: msg}}
	}

	var uploaded []*models.UploadedFile
	for i := range story.Comments {
		comment := &story.Comments[i]
		attachments := comment.Attachments
		comment.Attachments = nil
		if len(attachments) == 0 {
			continue
		}
		log.WithField("comment", i).Infof("%d 件のファイルを処理します", len(attachments))

		var links []string
		for _, att := range attachments {
			path, ok := files[att.Filename]
			if !ok {
				log.WithField("filename", att.Filename).Debug("添付ファイルがフォルダにありません")
				continue
			}

			f, err := p.upload(ctx, path)
			if err != nil {
				utils.Metrics().FileUploads.WithLabelValues("failed").Inc()
				rec.ErrorMessage = fmt.Sprintf("Failed to upload files: %s", att.Filename)
				log.WithError(err).WithField("filename", att.Filename).Error("ファイルのアップロードに失敗しました")
				return uploaded, []models.FailedFile{{StoryID: story.ExternalID, Filename: att.Filename, Error: err.Error()}}
			}
			utils.Metrics().FileUploads.WithLabelValues("uploaded").Inc()
			uploaded = append(uploaded, f)

			// ストーリーの成否に関わらずファイルはShortcutに存在するので即座に記録する
			if !p.dryRun() && p.ledger != nil {
				if err := p.ledger.Append(models.LedgerEntry{Type: models.EntityFile, ID: fmt.Sprint(f.ID)}); err != nil {
					log.WithError(err).Error("台帳への書き込みに失敗しました")
				}
			}

			links = append(links, markdownLink(f.Filename, f.URL, contentType(att, path)))
		}

		if len(links) > 0 {
			comment.Text += "\n\n" + strings.Join(links, "\n") + "\n"
		}
	}
	return uploaded, nil
}

func (p *FileProcessor) upload(ctx context.Context, path string) (*models.UploadedFile, error) {
	name := filepath.Base(path)
	if p.dryRun() {
		p.log.WithField("filename", name).Info("[DRY RUN] ファイルをアップロードします")
		return &models.UploadedFile{
			EntityType: string(models.EntityFile),
			Filename:   name,
			URL:        "https://mock-url/" + name,
		}, nil
	}
	f, err := p.uploader.UploadFile(ctx, path)
	if err != nil {
		return nil, err
	}
	if f.Filename == "" {
		f.Filename = name
	}
	return f, nil
}

// contentType はダンプに記録された種別を優先し、無ければファイル内容から判定します
func contentType(att models.CommentAttachment, path string) string {
	if att.ContentType != "" {
		return att.ContentType
	}
	m, err := mimetype.DetectFile(path)
	if err != nil {
		return ""
	}
	return m.String()
}

func markdownLink(filename, url, ctype string) string {
	if strings.HasPrefix(ctype, "image/") {
		return fmt.Sprintf("![%s](%s)", filename, url)
	}
	return fmt.Sprintf("[%s](%s)", filename, url)
}

// listFiles はフォルダ配下（サブフォルダ含む）のファイル名→パスを返します
func listFiles(dir string) (map[string]string, error) {
	files := make(map[string]string)
	err := filepath.WalkDir(dir, func(path string, d fs.DirEntry, err error) error {
		if err != nil {
			return err
		}
		if !d.IsDir() {
			files[d.Name()] = path
		}
		return nil
	})
	return files, err
}

func isDir(path string) bool {
	info, err := os.Stat(path)
	return err == nil && info.IsDir()
}
