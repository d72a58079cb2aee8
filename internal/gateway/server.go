package gateway

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"strconv"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"

	"github.com/hnishizawa43-ctrl/eclipse-ai-y9/internal/audit"
	"github.com/hnishizawa43-ctrl/eclipse-ai-y9/internal/export"
	"github.com/hnishizawa43-ctrl/eclipse-ai-y9/internal/metrics"
	"github.com/hnishizawa43-ctrl/eclipse-ai-y9/internal/notification"
	"github.com/hnishizawa43-ctrl/eclipse-ai-y9/pkg/middleware"
)

// streamKeepAlive はSSEストリームで接続維持用のpingを送る間隔。
const streamKeepAlive = 25 * time.Second

// Config はサーバーの生成設定。
type Config struct {
	// Port はリッスンポート。
	Port string
	// JWTSecret はJWT署名用の秘密鍵。
	JWTSecret string
	// FrontendURLs はCORSで許可するオリジン。
	FrontendURLs []string
	// DevToken は開発用トークン発行を有効にするかどうか。
	DevToken bool
	// Logger はサーバーのロガー。nilの場合はslog.Default()。
	Logger *slog.Logger
	// MetricsHandler は /metrics で公開するハンドラ。nilの場合は公開しない。
	MetricsHandler http.Handler
}

// Server はダッシュボードのHTTPサーバー。
type Server struct {
	// router はGinのHTTPルーター。
	router *gin.Engine
	// port はサーバーのリッスンポート。
	port string
	// sessions はユーザーごとの通知セッション。
	sessions *notification.Sessions
	// recorder は監査ログ。nilの場合は無効。
	recorder *audit.Recorder
	// jwtSecret はJWT署名用の秘密鍵。
	jwtSecret string
	// devToken は開発用トークン発行の有効・無効。
	devToken bool
	// logger はハンドラのエラーを記録する。
	logger *slog.Logger
	// metricsHandler はPrometheusのエクスポーター。
	metricsHandler http.Handler
}

// NewServer は新しいサーバーを生成する。recorderはnilでもよい。
func NewServer(cfg Config, sessions *notification.Sessions, recorder *audit.Recorder) *Server {
	logger := cfg.Logger
	if logger == nil {
		logger = slog.Default()
	}

	router := gin.New()
	router.Use(middleware.Recovery(logger))
	router.Use(gin.Logger())
	router.Use(middleware.CORS(cfg.FrontendURLs))

	s := &Server{
		router:         router,
		port:           cfg.Port,
		sessions:       sessions,
		recorder:       recorder,
		jwtSecret:      cfg.JWTSecret,
		devToken:       cfg.DevToken,
		logger:         logger,
		metricsHandler: cfg.MetricsHandler,
	}
	s.setupRoutes(middleware.JWTAuth(cfg.JWTSecret))

	return s
}

// Handler はルーティング済みのhttp.Handlerを返す。
func (s *Server) Handler() http.Handler {
	return s.router
}

// Run はHTTPサーバーを起動し、ctxが終了したらグレースフルシャットダウンする。
// シャットダウン開始時に全セッションを閉じ、SSEストリームを終了させる。
func (s *Server) Run(ctx context.Context, shutdownTimeout time.Duration) error {
	srv := &http.Server{
		Addr:              fmt.Sprintf(":%s", s.port),
		Handler:           s.router,
		ReadHeaderTimeout: 10 * time.Second,
	}
	srv.RegisterOnShutdown(s.sessions.CloseAll)

	errCh := make(chan error, 1)
	go func() {
		s.logger.Info("HTTPサーバーを起動します", slog.String("addr", srv.Addr))
		errCh <- srv.ListenAndServe()
	}()

	select {
	case err := <-errCh:
		return err
	case <-ctx.Done():
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
	defer cancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		return fmt.Errorf("シャットダウンに失敗: %w", err)
	}
	if err := <-errCh; err != nil && !errors.Is(err, http.ErrServerClosed) {
		return err
	}
	return nil
}

// setupRoutes はAPIルーティングを設定する。authは /api/v1 に適用する認証ミドルウェア。
func (s *Server) setupRoutes(auth gin.HandlerFunc) {
	// 開発用トークン発行（認証不要）
	s.router.POST("/auth/dev-token", s.handleDevToken())

	api := s.router.Group("/api/v1")
	api.Use(auth)
	{
		notifications := api.Group("/notifications")
		{
			// 通知一覧取得（絞り込み可）
			notifications.GET("", s.handleList())
			// 未読通知一覧取得
			notifications.GET("/unread", s.handleListUnread())
			// 未読件数取得
			notifications.GET("/unread/count", s.handleUnreadCount())
			// 通知を追加する
			notifications.POST("", s.handleCreate())
			// 通知を既読にする
			notifications.PUT("/:id/read", s.handleMarkAsRead())
			// 全通知を既読にする
			notifications.PUT("/read-all", s.handleMarkAllAsRead())
			// 全通知を削除する
			notifications.DELETE("", s.handleClearAll())
			// CSV・JSONでの書き出し
			notifications.GET("/export", s.handleExport())
			// トーストのSSE配信
			notifications.GET("/stream", s.handleStream())
			// 通知を1件取得する
			notifications.GET("/:id", s.handleGet())
		}

		// シミュレーションの状態取得と切り替え
		api.GET("/simulation", s.handleGetSimulation())
		api.PUT("/simulation", s.handleSetSimulation())

		// 自分のセッションの状態取得と終了
		api.GET("/session", s.handleGetSession())
		api.DELETE("/session", s.handleDeleteSession())

		// 監査ログ
		api.GET("/audit", s.handleAudit())
		api.GET("/audit/summary", s.handleAuditSummary())
	}

	// ヘルスチェック
	s.router.GET("/health", func(c *gin.Context) {
		c.JSON(http.StatusOK, gin.H{"status": "ok", "service": "eclipse-ai", "sessions": s.sessions.Len()})
	})

	if s.metricsHandler != nil {
		s.router.GET("/metrics", gin.WrapH(s.metricsHandler))
	}
}

// session は認証済みユーザーのセッションを返す。ユーザーIDが取得できない場合は401を返してfalseとなる。
func (s *Server) session(c *gin.Context) (*notification.Session, bool) {
	userID := middleware.GetUserID(c)
	if userID == "" {
		c.JSON(http.StatusUnauthorized, gin.H{"error": "ユーザーIDが取得できません"})
		return nil, false
	}
	return s.sessions.Get(userID), true
}

// notificationResponse は通知のJSONレスポンス構造。
type notificationResponse struct {
	// ID は通知の一意識別子。
	ID string `json:"id"`
	// Title は通知の見出し。
	Title string `json:"title"`
	// Description は通知の詳細。
	Description string `json:"description"`
	// Level は通知の重要度。
	Level string `json:"level"`
	// LevelLabel は重要度の表示ラベル。
	LevelLabel string `json:"level_label"`
	// Category は通知の分類。
	Category string `json:"category"`
	// CategoryLabel は分類の表示ラベル。
	CategoryLabel string `json:"category_label"`
	// CreatedAt は通知の作成日時（RFC3339形式）。
	CreatedAt string `json:"created_at"`
	// CreatedAtMs は作成日時のエポックミリ秒。
	CreatedAtMs int64 `json:"created_at_ms"`
	// DisplayTime はレスポンス時点での相対時刻。
	DisplayTime string `json:"display_time"`
	// Unread は未読状態。
	Unread bool `json:"unread"`
}

// toNotificationResponse は通知をJSONレスポンスに変換する。
func toNotificationResponse(r notification.Record, now time.Time) notificationResponse {
	return notificationResponse{
		ID:            r.ID,
		Title:         r.Title,
		Description:   r.Description,
		Level:         string(r.Level),
		LevelLabel:    r.Level.Label(),
		Category:      string(r.Category),
		CategoryLabel: r.Category.Label(),
		CreatedAt:     r.CreatedAt.UTC().Format(time.RFC3339),
		CreatedAtMs:   r.CreatedAt.UnixMilli(),
		DisplayTime:   r.DisplayTime(now),
		Unread:        r.Unread,
	}
}

// toNotificationResponses は通知のスライスをJSONレスポンスのスライスに変換する。
func toNotificationResponses(records []notification.Record, now time.Time) []notificationResponse {
	responses := make([]notificationResponse, 0, len(records))
	for _, r := range records {
		responses = append(responses, toNotificationResponse(r, now))
	}
	return responses
}

// queryFilter はクエリパラメータ level・category・unread から絞り込み条件を作る。
func queryFilter(c *gin.Context) (notification.Filter, error) {
	unreadOnly := false
	if v := c.Query("unread"); v != "" {
		parsed, err := strconv.ParseBool(v)
		if err != nil {
			return notification.Filter{}, fmt.Errorf("%w: unreadはtrueまたはfalseで指定してください", notification.ErrInvalidArgument)
		}
		unreadOnly = parsed
	}
	return notification.ParseFilter(c.Query("level"), c.Query("category"), unreadOnly)
}

// handleList は条件に一致する通知一覧と未読件数を返すハンドラ。
func (s *Server) handleList() gin.HandlerFunc {
	return func(c *gin.Context) {
		sess, ok := s.session(c)
		if !ok {
			return
		}

		filter, err := queryFilter(c)
		if err != nil {
			c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
			return
		}

		c.JSON(http.StatusOK, gin.H{
			"notifications": toNotificationResponses(sess.Store.List(filter), sess.Store.Now()),
			"unread_count":  sess.Store.UnreadCount(),
		})
	}
}

// handleGet は指定された通知を1件返すハンドラ。
func (s *Server) handleGet() gin.HandlerFunc {
	return func(c *gin.Context) {
		sess, ok := s.session(c)
		if !ok {
			return
		}

		rec, found := sess.Store.Get(c.Param("id"))
		if !found {
			c.JSON(http.StatusNotFound, gin.H{"error": "通知が見つかりません"})
			return
		}
		c.JSON(http.StatusOK, toNotificationResponse(rec, sess.Store.Now()))
	}
}

// handleListUnread は未読の通知一覧を返すハンドラ。
func (s *Server) handleListUnread() gin.HandlerFunc {
	return func(c *gin.Context) {
		sess, ok := s.session(c)
		if !ok {
			return
		}
		records := sess.Store.List(notification.Filter{UnreadOnly: true})
		c.JSON(http.StatusOK, toNotificationResponses(records, sess.Store.Now()))
	}
}

// handleUnreadCount は未読件数を返すハンドラ。
func (s *Server) handleUnreadCount() gin.HandlerFunc {
	return func(c *gin.Context) {
		sess, ok := s.session(c)
		if !ok {
			return
		}
		c.JSON(http.StatusOK, gin.H{"unread_count": sess.Store.UnreadCount()})
	}
}

// createRequest は通知追加リクエストのJSON構造。
type createRequest struct {
	// Title は通知の見出し。
	Title string `json:"title" binding:"required"`
	// Description は通知の詳細。
	Description string `json:"description" binding:"required"`
	// Level は通知の重要度。
	Level string `json:"level" binding:"required"`
	// Category は通知の分類。
	Category string `json:"category" binding:"required"`
}

// handleCreate は通知を追加するハンドラ。
func (s *Server) handleCreate() gin.HandlerFunc {
	return func(c *gin.Context) {
		sess, ok := s.session(c)
		if !ok {
			return
		}

		var req createRequest
		if err := c.ShouldBindJSON(&req); err != nil {
			c.JSON(http.StatusBadRequest, gin.H{"error": fmt.Sprintf("リクエストが不正です: %v", err)})
			return
		}

		rec, err := sess.Store.Add(notification.Input{
			Title:       req.Title,
			Description: req.Description,
			Level:       notification.Level(req.Level),
			Category:    notification.Category(req.Category),
		})
		if errors.Is(err, notification.ErrInvalidArgument) {
			c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
			return
		}
		if err != nil {
			c.JSON(http.StatusInternalServerError, gin.H{"error": "通知の追加に失敗しました"})
			s.logger.Error("通知追加エラー", slog.Any("error", err))
			return
		}

		c.JSON(http.StatusCreated, toNotificationResponse(rec, sess.Store.Now()))
	}
}

// handleMarkAsRead は指定された通知を既読にするハンドラ。
// 存在しない通知の指定も成功として扱う。
func (s *Server) handleMarkAsRead() gin.HandlerFunc {
	return func(c *gin.Context) {
		sess, ok := s.session(c)
		if !ok {
			return
		}

		notificationID := c.Param("id")
		if notificationID == "" {
			c.JSON(http.StatusBadRequest, gin.H{"error": "通知IDが必要です"})
			return
		}

		sess.Store.MarkRead(notificationID)
		c.JSON(http.StatusOK, gin.H{
			"message":      "通知を既読にしました",
			"unread_count": sess.Store.UnreadCount(),
		})
	}
}

// handleMarkAllAsRead は全通知を既読にするハンドラ。
func (s *Server) handleMarkAllAsRead() gin.HandlerFunc {
	return func(c *gin.Context) {
		sess, ok := s.session(c)
		if !ok {
			return
		}

		sess.Store.MarkAllRead()
		c.JSON(http.StatusOK, gin.H{
			"message":      "全通知を既読にしました",
			"unread_count": sess.Store.UnreadCount(),
		})
	}
}

// handleClearAll は全通知を削除するハンドラ。
func (s *Server) handleClearAll() gin.HandlerFunc {
	return func(c *gin.Context) {
		sess, ok := s.session(c)
		if !ok {
			return
		}

		sess.Store.ClearAll()
		c.JSON(http.StatusOK, gin.H{"message": "全通知を削除しました"})
	}
}

// handleExport は通知一覧をCSVまたはJSONで書き出すハンドラ。
// level・category・unread の絞り込みは一覧取得と同じ。
func (s *Server) handleExport() gin.HandlerFunc {
	return func(c *gin.Context) {
		sess, ok := s.session(c)
		if !ok {
			return
		}

		format, err := export.ParseFormat(c.Query("format"))
		if err != nil {
			c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
			return
		}
		filter, err := queryFilter(c)
		if err != nil {
			c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
			return
		}

		now := sess.Store.Now()
		records := sess.Store.List(filter)
		c.Header("Content-Type", format.ContentType())
		c.Header("Content-Disposition", fmt.Sprintf(`attachment; filename="%s"`, format.Filename(now)))
		c.Status(http.StatusOK)
		if err := export.Write(c.Writer, format, records, now); err != nil {
			s.logger.Error("書き出しエラー", slog.String("format", string(format)), slog.Any("error", err))
		}
	}
}

// handleStream は追加された通知のトーストをServer-Sent Eventsで配信するハンドラ。
// 接続直後に未読件数を ready イベントで送り、以降は toast イベントを送る。
// セッションが閉じられるとストリームも終了する。
func (s *Server) handleStream() gin.HandlerFunc {
	return func(c *gin.Context) {
		sess, ok := s.session(c)
		if !ok {
			return
		}

		toasts, unsubscribe := sess.Toasts.Subscribe()
		defer unsubscribe()
		defer metrics.StreamOpened()()

		c.Header("Content-Type", "text/event-stream")
		c.Header("Cache-Control", "no-cache")
		c.Header("Connection", "keep-alive")
		c.Header("X-Accel-Buffering", "no")
		c.Status(http.StatusOK)

		c.SSEvent("ready", gin.H{"unread_count": sess.Store.UnreadCount()})
		c.Writer.Flush()

		keepAlive := time.NewTicker(streamKeepAlive)
		defer keepAlive.Stop()

		ctx := c.Request.Context()
		for {
			select {
			case <-ctx.Done():
				return
			case <-keepAlive.C:
				c.SSEvent("ping", gin.H{"at": time.Now().UTC().Format(time.RFC3339)})
			case toast, ok := <-toasts:
				if !ok {
					return
				}
				c.SSEvent("toast", toast)
			}
			c.Writer.Flush()
		}
	}
}

// handleGetSimulation はシミュレーションの状態を返すハンドラ。
func (s *Server) handleGetSimulation() gin.HandlerFunc {
	return func(c *gin.Context) {
		sess, ok := s.session(c)
		if !ok {
			return
		}
		c.JSON(http.StatusOK, gin.H{
			"enabled": sess.Simulator.Enabled(),
			"emitted": sess.Simulator.Emitted(),
		})
	}
}

// simulationRequest はシミュレーション切り替えリクエストのJSON構造。
type simulationRequest struct {
	// Enabled は有効にするかどうか。省略は不可。
	Enabled *bool `json:"enabled" binding:"required"`
}

// handleSetSimulation はシミュレーションの有効・無効を切り替えるハンドラ。
func (s *Server) handleSetSimulation() gin.HandlerFunc {
	return func(c *gin.Context) {
		sess, ok := s.session(c)
		if !ok {
			return
		}

		var req simulationRequest
		if err := c.ShouldBindJSON(&req); err != nil {
			c.JSON(http.StatusBadRequest, gin.H{"error": fmt.Sprintf("リクエストが不正です: %v", err)})
			return
		}

		changed := sess.Simulator.Enabled() != *req.Enabled
		sess.Simulator.SetEnabled(*req.Enabled)

		if changed && s.recorder != nil {
			if err := s.recorder.RecordSimulation(c.Request.Context(), sess.UserID, *req.Enabled, sess.Store.Now()); err != nil {
				// 記録に失敗しても切り替え自体は成功として扱う
				s.logger.Error("シミュレーション切り替えの記録に失敗", slog.String("user_id", sess.UserID), slog.Any("error", err))
			}
		}

		c.JSON(http.StatusOK, gin.H{
			"enabled": sess.Simulator.Enabled(),
			"emitted": sess.Simulator.Emitted(),
		})
	}
}

// handleGetSession は認証済みユーザーのセッションの状態を返すハンドラ。
// セッションが存在しない場合も新たに生成せず active=false を返す。
func (s *Server) handleGetSession() gin.HandlerFunc {
	return func(c *gin.Context) {
		userID := middleware.GetUserID(c)
		if userID == "" {
			c.JSON(http.StatusUnauthorized, gin.H{"error": "ユーザーIDが取得できません"})
			return
		}

		sess, ok := s.sessions.Lookup(userID)
		if !ok {
			c.JSON(http.StatusOK, gin.H{"user_id": userID, "active": false})
			return
		}
		c.JSON(http.StatusOK, gin.H{
			"user_id":            userID,
			"active":             true,
			"notifications":      sess.Store.Len(),
			"unread_count":       sess.Store.UnreadCount(),
			"capacity":           sess.Store.Capacity(),
			"simulation_enabled": sess.Simulator.Enabled(),
			"emitted":            sess.Simulator.Emitted(),
			"stream_subscribers": sess.Toasts.Subscribers(),
		})
	}
}

// handleDeleteSession は認証済みユーザーのセッションを終了するハンドラ。
// 次のリクエストで初期通知から新しいセッションが始まる。
func (s *Server) handleDeleteSession() gin.HandlerFunc {
	return func(c *gin.Context) {
		userID := middleware.GetUserID(c)
		if userID == "" {
			c.JSON(http.StatusUnauthorized, gin.H{"error": "ユーザーIDが取得できません"})
			return
		}

		closed := s.sessions.Close(userID)
		c.JSON(http.StatusOK, gin.H{"message": "セッションを終了しました", "closed": closed})
	}
}

// auditResponse は監査イベントのJSONレスポンス構造。
type auditResponse struct {
	// ID はイベントの一意識別子。
	ID string `json:"id"`
	// AggregateType はイベントの対象。
	AggregateType string `json:"aggregate_type"`
	// EventType はイベントの種類。
	EventType string `json:"event_type"`
	// Version はユーザー内の連番。
	Version int64 `json:"version"`
	// Data はイベント固有のデータ。
	Data any `json:"data"`
	// CreatedAt はイベントの発生日時（RFC3339形式）。
	CreatedAt string `json:"created_at"`
}

// handleAudit は認証済みユーザーの監査ログを新しい順に返すハンドラ。
func (s *Server) handleAudit() gin.HandlerFunc {
	return func(c *gin.Context) {
		userID := middleware.GetUserID(c)
		if userID == "" {
			c.JSON(http.StatusUnauthorized, gin.H{"error": "ユーザーIDが取得できません"})
			return
		}
		if s.recorder == nil {
			c.JSON(http.StatusServiceUnavailable, gin.H{"error": "監査ログが設定されていません"})
			return
		}

		limit := audit.DefaultListLimit
		if v := c.Query("limit"); v != "" {
			n, err := strconv.Atoi(v)
			if err != nil || n < 1 {
				c.JSON(http.StatusBadRequest, gin.H{"error": "limitは1以上の整数で指定してください"})
				return
			}
			limit = n
		}

		events, err := s.recorder.List(c.Request.Context(), userID, limit)
		if err != nil {
			c.JSON(http.StatusInternalServerError, gin.H{"error": "監査ログの取得に失敗しました"})
			s.logger.Error("監査ログ取得エラー", slog.Any("error", err))
			return
		}

		responses := make([]auditResponse, 0, len(events))
		for _, ev := range events {
			responses = append(responses, auditResponse{
				ID:            ev.ID,
				AggregateType: string(ev.AggregateType),
				EventType:     string(ev.EventType),
				Version:       ev.Version,
				Data:          ev.Data,
				CreatedAt:     ev.CreatedAt.UTC().Format(time.RFC3339),
			})
		}
		c.JSON(http.StatusOK, responses)
	}
}

// handleAuditSummary は認証済みユーザーの監査イベント件数を種類ごとに返すハンドラ。
func (s *Server) handleAuditSummary() gin.HandlerFunc {
	return func(c *gin.Context) {
		userID := middleware.GetUserID(c)
		if userID == "" {
			c.JSON(http.StatusUnauthorized, gin.H{"error": "ユーザーIDが取得できません"})
			return
		}
		if s.recorder == nil {
			c.JSON(http.StatusServiceUnavailable, gin.H{"error": "監査ログが設定されていません"})
			return
		}

		counts, err := s.recorder.CountByType(c.Request.Context(), userID)
		if err != nil {
			c.JSON(http.StatusInternalServerError, gin.H{"error": "監査ログの集計に失敗しました"})
			s.logger.Error("監査ログ集計エラー", slog.Any("error", err))
			return
		}

		byType := make(map[string]int, len(counts))
		total := 0
		for typ, n := range counts {
			byType[string(typ)] = n
			total += n
		}
		c.JSON(http.StatusOK, gin.H{"counts": byType, "total": total})
	}
}

// devTokenRequest は開発用トークン発行リクエストのJSON構造。いずれも省略可。
type devTokenRequest struct {
	// UserID はトークンに含めるユーザーID。省略時は新しいIDを割り当てる。
	UserID string `json:"user_id"`
	// Email はトークンに含めるメールアドレス。
	Email string `json:"email"`
}

// handleDevToken は開発用JWTトークンを発行するハンドラを返す。
// 本番環境では無効化すべき。
func (s *Server) handleDevToken() gin.HandlerFunc {
	return func(c *gin.Context) {
		if !s.devToken {
			c.JSON(http.StatusNotFound, gin.H{"error": "開発用トークンは無効です"})
			return
		}

		var req devTokenRequest
		if c.Request.ContentLength > 0 {
			if err := c.ShouldBindJSON(&req); err != nil {
				c.JSON(http.StatusBadRequest, gin.H{"error": fmt.Sprintf("リクエストが不正です: %v", err)})
				return
			}
		}
		if req.UserID == "" {
			req.UserID = uuid.New().String()
		}
		if req.Email == "" {
			req.Email = "dev@localhost"
		}

		token, err := middleware.GenerateJWT(s.jwtSecret, req.UserID, req.Email, 0)
		if err != nil {
			c.JSON(http.StatusInternalServerError, gin.H{"error": "トークン生成に失敗しました"})
			s.logger.Error("JWT生成エラー", slog.Any("error", err))
			return
		}

		c.JSON(http.StatusOK, gin.H{
			"token":   token,
			"user_id": req.UserID,
		})
	}
}
