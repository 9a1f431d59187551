package api

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"math/rand"
	"mime/multipart"
	"net/http"
	"net/textproto"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"time"

	"github.com/gabriel-vasile/mimetype"
	"github.com/google/uuid"
	"github.com/sirupsen/logrus"

	"pivotaltoshortcut/config"
	"pivotaltoshortcut/models"
	"pivotaltoshortcut/utils"
)

const requestIDHeader = "X-Request-ID"

// entityPaths はエンティティ種別ごとのAPIパスです
var entityPaths = map[models.EntityType]string{
	models.EntityStory:     "/stories",
	models.EntityEpic:      "/epics",
	models.EntityIteration: "/iterations",
	models.EntityLabel:     "/labels",
	models.EntityFile:      "/files",
}

// MemberInfo は GET /member のレスポンスです
type MemberInfo struct {
	ID          string `json:"id"`
	Name        string `json:"name"`
	MentionName string `json:"mention_name"`
}

// ShortcutClient はShortcut REST API v3 とのやり取りを処理します
type ShortcutClient struct {
	baseURL    string
	token      string
	client     *http.Client
	throttle   *Throttle
	maxRetries int
	log        *logrus.Entry

	sleep func(context.Context, time.Duration) error
	rnd   *rand.Rand
}

// NewShortcutClient は新しいShortcutクライアントを作成します
func NewShortcutClient(cfg *config.Config, log *logrus.Entry) (*ShortcutClient, error) {
	throttle, err := NewThrottle(cfg.RateLimit)
	if err != nil {
		return nil, err
	}
	return &ShortcutClient{
		baseURL:    strings.TrimRight(cfg.APIURL, "/"),
		token:      cfg.APIToken,
		client:     &http.Client{Timeout: cfg.RequestTimeout},
		throttle:   throttle,
		maxRetries: cfg.MaxRetries,
		log:        log,
		sleep:      utils.SleepContext,
		rnd:        rand.New(rand.NewSource(time.Now().UnixNano())), //nolint:gosec
	}, nil
}

// CheckAuth はトークンの所有者を取得して認証を確認します
func (c *ShortcutClient) CheckAuth(ctx context.Context) (*MemberInfo, error) {
	var info MemberInfo
	if err := c.doJSON(ctx, http.MethodGet, "/member", nil, &info); err != nil {
		return nil, fmt.Errorf("認証確認エラー: %w", err)
	}
	return &info, nil
}

// ListMembers はワークスペースのメンバー一覧を取得します
func (c *ShortcutClient) ListMembers(ctx context.Context) ([]models.Member, error) {
	var members []models.Member
	if err := c.doJSON(ctx, http.MethodGet, "/members", nil, &members); err != nil {
		return nil, fmt.Errorf("メンバー取得エラー: %w", err)
	}
	return members, nil
}

// Create は1件のエンティティを作成します
func (c *ShortcutClient) Create(ctx context.Context, payload models.Payload) (*models.CreatedEntity, error) {
	path, ok := entityPaths[payload.Kind()]
	if !ok || payload.Kind() == models.EntityFile {
		return nil, fmt.Errorf("作成できないエンティティ種別です: %s", payload.Kind())
	}

	var created models.CreatedEntity
	if err := c.doJSON(ctx, http.MethodPost, path, payload, &created); err != nil {
		return nil, fmt.Errorf("%s 作成エラー: %w", payload.Kind(), err)
	}
	if created.EntityType == "" {
		created.EntityType = string(payload.Kind())
	}
	return &created, nil
}

// CreateStories はストーリーを一括作成します。結果は全件成功か全件失敗のどちらかです
func (c *ShortcutClient) CreateStories(ctx context.Context, stories []*models.StoryPayload) ([]models.CreatedEntity, error) {
	body := map[string]any{"stories": stories}

	var created []models.CreatedEntity
	if err := c.doJSON(ctx, http.MethodPost, "/stories/bulk", body, &created); err != nil {
		return nil, fmt.Errorf("ストーリー一括作成エラー: %w", err)
	}
	for i := range created {
		if created[i].EntityType == "" {
			created[i].EntityType = string(models.EntityStory)
		}
	}
	return created, nil
}

// UploadFile はファイルを1件アップロードします
func (c *ShortcutClient) UploadFile(ctx context.Context, filePath string) (*models.UploadedFile, error) {
	file, err := os.Open(filePath)
	if err != nil {
		return nil, fmt.Errorf("ファイルオープンエラー: %w", err)
	}
	defer file.Close()

	mtype, err := mimetype.DetectReader(file)
	if err != nil {
		return nil, fmt.Errorf("ファイル種別判定エラー: %w", err)
	}
	if _, err := file.Seek(0, io.SeekStart); err != nil {
		return nil, fmt.Errorf("ファイルシークエラー: %w", err)
	}

	body := &bytes.Buffer{}
	writer := multipart.NewWriter(body)

	header := make(textproto.MIMEHeader)
	header.Set("Content-Disposition", fmt.Sprintf(`form-data; name="file0"; filename=%q`, filepath.Base(filePath)))
	header.Set("Content-Type", mtype.String())
	part, err := writer.CreatePart(header)
	if err != nil {
		return nil, fmt.Errorf("multipartフォーム作成エラー: %w", err)
	}
	if _, err := io.Copy(part, file); err != nil {
		return nil, fmt.Errorf("ファイルコピーエラー: %w", err)
	}
	if err := writer.Close(); err != nil {
		return nil, fmt.Errorf("writerクローズエラー: %w", err)
	}

	var uploaded []models.UploadedFile
	if err := c.do(ctx, http.MethodPost, "/files", writer.FormDataContentType(), body.Bytes(), &uploaded); err != nil {
		return nil, fmt.Errorf("ファイルアップロードエラー: %w", err)
	}
	if len(uploaded) == 0 {
		return nil, fmt.Errorf("アップロード結果が空です: %s", filepath.Base(filePath))
	}
	f := uploaded[0]
	if f.EntityType == "" {
		f.EntityType = string(models.EntityFile)
	}
	return &f, nil
}

// Delete はエンティティを削除します。存在しない場合は IsNotFound で判定できるエラーを返します
func (c *ShortcutClient) Delete(ctx context.Context, entityType models.EntityType, id string) error {
	prefix, ok := entityPaths[entityType]
	if !ok {
		return fmt.Errorf("不明なエンティティ種別です: %s", entityType)
	}
	return c.doJSON(ctx, http.MethodDelete, prefix+"/"+id, nil, nil)
}

// ListGroupStories はチームに属するストーリー一覧を取得します
func (c *ShortcutClient) ListGroupStories(ctx context.Context, groupID string) ([]models.StorySummary, error) {
	var stories []models.StorySummary
	if err := c.doJSON(ctx, http.MethodGet, "/groups/"+groupID+"/stories", nil, &stories); err != nil {
		return nil, fmt.Errorf("チームのストーリー取得エラー: %w", err)
	}
	return stories, nil
}

// CreateStoryComment はストーリーにコメントを追加します
func (c *ShortcutClient) CreateStoryComment(ctx context.Context, storyID, text string) (*models.Comment, error) {
	var comment models.Comment
	body := map[string]string{"text": text}
	if err := c.doJSON(ctx, http.MethodPost, "/stories/"+storyID+"/comments", body, &comment); err != nil {
		return nil, fmt.Errorf("コメント追加エラー: %w", err)
	}
	return &comment, nil
}

// DeleteStoryComment はストーリーのコメントを削除します
func (c *ShortcutClient) DeleteStoryComment(ctx context.Context, storyID, commentID string) error {
	return c.doJSON(ctx, http.MethodDelete, "/stories/"+storyID+"/comments/"+commentID, nil, nil)
}

func (c *ShortcutClient) doJSON(ctx context.Context, method, path string, reqBody, out any) error {
	var payload []byte
	if reqBody != nil {
		b, err := json.Marshal(reqBody)
		if err != nil {
			return fmt.Errorf("JSONエンコードエラー: %w", err)
		}
		payload = b
	}
	return c.do(ctx, method, path, "application/json", payload, out)
}

// do はレート制限と再試行を行いながらリクエストを送信します
func (c *ShortcutClient) do(ctx context.Context, method, path, contentType string, payload []byte, out any) error {
	for attempt := 0; ; attempt++ {
		if attempt > 0 {
			wait := c.retryWait(attempt)
			c.log.WithFields(logrus.Fields{"method": method, "path": path, "attempt": attempt, "wait": wait.String()}).
				Warn("APIリクエストを再試行します")
			if err := c.sleep(ctx, wait); err != nil {
				return err
			}
		}

		status, respBody, err := c.send(ctx, method, path, contentType, payload)
		if err != nil {
			if attempt < c.maxRetries && idempotent(method) && ctx.Err() == nil {
				continue
			}
			return err
		}

		if status < 200 || status >= 300 {
			if attempt < c.maxRetries && retryable(method, status) {
				continue
			}
			return &APIError{Method: method, Path: path, StatusCode: status, Body: string(respBody)}
		}

		if out == nil || len(bytes.TrimSpace(respBody)) == 0 {
			return nil
		}
		if err := json.Unmarshal(respBody, out); err != nil {
			return fmt.Errorf("レスポンス解析エラー: %w", err)
		}
		return nil
	}
}

func (c *ShortcutClient) send(ctx context.Context, method, path, contentType string, payload []byte) (int, []byte, error) {
	if err := c.throttle.Wait(ctx); err != nil {
		return 0, nil, err
	}

	var body io.Reader
	if payload != nil {
		body = bytes.NewReader(payload)
	}
	req, err := http.NewRequestWithContext(ctx, method, c.baseURL+path, body)
	if err != nil {
		return 0, nil, fmt.Errorf("リクエスト作成エラー: %w", err)
	}
	req.Header.Set("Accept", "application/json")
	req.Header.Set("Shortcut-Token", c.token)
	req.Header.Set(requestIDHeader, uuid.NewString())
	if payload != nil {
		req.Header.Set("Content-Type", contentType)
	}

	m := utils.Metrics()
	start := time.Now()
	resp, err := c.client.Do(req)
	m.APILatency.WithLabelValues(method).Observe(time.Since(start).Seconds())
	if err != nil {
		m.APIRequests.WithLabelValues(method, "error").Inc()
		return 0, nil, fmt.Errorf("リクエスト送信エラー: %w", err)
	}
	defer resp.Body.Close()
	m.APIRequests.WithLabelValues(method, strconv.Itoa(resp.StatusCode)).Inc()

	respBody, err := io.ReadAll(resp.Body)
	if err != nil {
		return resp.StatusCode, nil, fmt.Errorf("レスポンス読み込みエラー: %w", err)
	}
	c.log.WithFields(logrus.Fields{"method": method, "path": path, "status": resp.StatusCode}).Debug("APIレスポンス")
	return resp.StatusCode, respBody, nil
}
