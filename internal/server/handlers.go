package server

import (
	"errors"
	"fmt"
	"net/http"
	"strconv"
	"time"
	"unicode/utf8"

	"github.com/gin-gonic/gin"

	"github.com/emitt/replyd/internal/analyzer"
	"github.com/emitt/replyd/internal/email"
	"github.com/emitt/replyd/internal/processor"
	"github.com/emitt/replyd/internal/storage"
	"github.com/emitt/replyd/internal/translate"
)

// Version is reported by the index endpoint.
const Version = "2.0.0"

// ErrorResponse is the body of every non-2xx reply.
type ErrorResponse struct {
	Error   string `json:"error"`
	Message string `json:"message"`
	Code    int    `json:"code"`
}

func abort(c *gin.Context, code int, kind, message string) {
	c.AbortWithStatusJSON(code, ErrorResponse{Error: kind, Message: message, Code: code})
}

type inboundRequest struct {
	RawBase64 string `json:"raw_base64"`
}

type analysisSummary struct {
	Intent       analyzer.Intent  `json:"intent"`
	Urgency      analyzer.Urgency `json:"urgency"`
	CanAutoReply bool             `json:"can_auto_reply"`
	Language     string           `json:"language"`
}

type sendSummary struct {
	Success   bool   `json:"success"`
	Method    string `json:"method,omitempty"`
	MessageID string `json:"message_id,omitempty"`
}

type inboundResponse struct {
	OK         bool             `json:"ok"`
	Status     string           `json:"status"`
	Outcome    processor.Status `json:"outcome"`
	From       string           `json:"from"`
	Subject    string           `json:"subject"`
	Saved      bool             `json:"saved"`
	Analyzed   bool             `json:"analyzed"`
	Replied    bool             `json:"replied"`
	Forwarded  bool             `json:"forwarded"`
	Analysis   *analysisSummary `json:"analysis,omitempty"`
	SendResult *sendSummary     `json:"send_result,omitempty"`
	Message    string           `json:"message"`
}

func (s *Server) inbound(c *gin.Context) {
	var req inboundRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		abort(c, http.StatusBadRequest, "invalid_request", "请求体必须是包含 raw_base64 的 JSON")
		return
	}

	out, err := s.deps.Pipeline.HandleInbound(c.Request.Context(), req.RawBase64, c.GetHeader(SignatureHeader))
	if err != nil {
		s.pipelineError(c, err)
		return
	}

	resp := inboundResponse{
		OK:        true,
		Status:    "已接收",
		Outcome:   out.Status,
		From:      out.Email.From,
		Subject:   out.Email.Subject,
		Saved:     out.Saved,
		Analyzed:  out.Analysis != nil,
		Replied:   out.Replied(),
		Forwarded: out.Forwarded,
		Message:   out.Message,
	}
	if a := out.Analysis; a != nil {
		resp.Analysis = &analysisSummary{
			Intent:       a.Intent,
			Urgency:      a.Urgency,
			CanAutoReply: a.CanAutoReply,
			Language:     a.DetectedLanguage,
		}
	}
	if r := out.SendResult; r != nil {
		resp.SendResult = &sendSummary{Success: r.Success, Method: r.Method, MessageID: r.MessageID}
	}
	c.JSON(http.StatusOK, resp)
}

func (s *Server) translateInbound(c *gin.Context) {
	var req inboundRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		abort(c, http.StatusBadRequest, "invalid_request", "请求体必须是包含 raw_base64 的 JSON")
		return
	}

	out, err := s.deps.Pipeline.HandleTranslation(c.Request.Context(), req.RawBase64, c.GetHeader(SignatureHeader), c.Param("lang"))
	if err != nil {
		s.pipelineError(c, err)
		return
	}

	status := "success"
	if out.Translation == nil || !out.Translation.Success {
		status = "error"
	}
	c.JSON(http.StatusOK, gin.H{
		"status":             status,
		"outcome":            out.Status,
		"translation_result": out.Translation,
		"send_result":        out.SendResult,
		"message":            out.Message,
		"timestamp":          s.now().Format(time.RFC3339),
	})
}

func (s *Server) pipelineError(c *gin.Context, err error) {
	_ = c.Error(err)
	switch {
	case errors.Is(err, email.ErrInvalidSignature):
		abort(c, http.StatusUnauthorized, "invalid_signature", "签名验证失败")
	case email.IsParseError(err):
		abort(c, http.StatusBadRequest, "parse_error", "邮件处理失败")
	case errors.Is(err, translate.ErrUnsupportedLanguage):
		abort(c, http.StatusBadRequest, "unsupported_language",
			fmt.Sprintf("不支持的目标语言: %s。支持的语言: %v", c.Param("lang"), supportedCodes()))
	default:
		abort(c, http.StatusInternalServerError, "internal_error", fmt.Sprintf("服务器内部错误: %v", err))
	}
}

func supportedCodes() []string {
	langs := translate.SupportedLanguages()
	codes := make([]string, len(langs))
	for i, l := range langs {
		codes[i] = l.Code
	}
	return codes
}

func (s *Server) root(c *gin.Context) {
	ctx := c.Request.Context()
	resp := gin.H{
		"service":     "智能邮件服务器",
		"version":     Version,
		"status":      "运行中",
		"description": "接收邮件，AI分析并智能回复",
		"features": []string{
			"邮件接收和解析",
			"AI内容分析",
			"智能自动回复",
			"多语言翻译",
			"Resend/SMTP双重发送",
		},
		"config":              s.cfg.Info(),
		"sender_status":       s.deps.Mailer.Status(),
		"supported_languages": translate.SupportedLanguages(),
	}
	if stats, err := s.deps.Store.GetStatistics(ctx); err == nil {
		resp["statistics"] = stats
	} else {
		s.logger.Error().Err(err).Msg("Failed to load statistics")
	}
	c.JSON(http.StatusOK, resp)
}

func (s *Server) health(c *gin.Context) {
	ctx := c.Request.Context()
	problems := s.cfg.Validate()
	if problems == nil {
		problems = []string{}
	}

	status := "healthy"
	if len(problems) > 0 {
		status = "warning"
	}
	code := http.StatusOK

	database := "ok"
	if err := s.deps.Store.Ping(ctx); err != nil {
		s.logger.Error().Err(err).Msg("Database health check failed")
		database = "error"
		status = "error"
		code = http.StatusServiceUnavailable
	}

	resp := gin.H{
		"status":           status,
		"timestamp":        s.now().Format(time.RFC3339),
		"config_errors":    problems,
		"database":         database,
		"sender_available": s.deps.Mailer.Status().Primary != "none",
	}

	if stats, err := s.deps.Store.GetStatistics(ctx); err == nil {
		resp["total_emails"] = stats.TotalEmails
		resp["success_rate"] = stats.SuccessRate
	}

	if sch := s.deps.Scheduler; sch != nil {
		cleanup := gin.H{"running": sch.IsRunning()}
		if next := sch.NextRun(); !next.IsZero() {
			cleanup["next_run"] = next.Format(time.RFC3339)
		}
		if last := sch.LastRun(); !last.IsZero() {
			cleanup["last_run"] = last.Format(time.RFC3339)
		}
		resp["cleanup"] = cleanup
	}

	c.JSON(code, resp)
}

// intQuery reads a non-negative integer query parameter.
func intQuery(c *gin.Context, key string, def int) (int, bool) {
	raw := c.Query(key)
	if raw == "" {
		return def, true
	}
	n, err := strconv.Atoi(raw)
	if err != nil || n < 0 {
		abort(c, http.StatusBadRequest, "invalid_parameter", fmt.Sprintf("参数 %s 必须是非负整数", key))
		return 0, false
	}
	return n, true
}

func (s *Server) listEmails(c *gin.Context) {
	limit, ok := intQuery(c, "limit", 10)
	if !ok {
		return
	}
	offset, ok := intQuery(c, "offset", 0)
	if !ok {
		return
	}

	page, err := s.deps.Store.ListEmails(c.Request.Context(), limit, offset)
	if err != nil {
		_ = c.Error(err)
		abort(c, http.StatusInternalServerError, "database_error", "获取邮件列表错误")
		return
	}
	c.JSON(http.StatusOK, page)
}

func (s *Server) searchEmails(c *gin.Context) {
	query := c.Query("q")
	if query == "" {
		abort(c, http.StatusBadRequest, "invalid_parameter", "缺少搜索关键词 q")
		return
	}
	limit, ok := intQuery(c, "limit", 10)
	if !ok {
		return
	}

	results, err := s.deps.Store.SearchEmails(c.Request.Context(), query, limit)
	if err != nil {
		_ = c.Error(err)
		abort(c, http.StatusInternalServerError, "database_error", "搜索邮件错误")
		return
	}
	if results == nil {
		results = []*storage.EmailRecord{}
	}
	c.JSON(http.StatusOK, gin.H{
		"query":   query,
		"results": results,
		"count":   len(results),
	})
}

func (s *Server) getEmail(c *gin.Context) {
	rec, err := s.deps.Store.GetEmailByMessageID(c.Request.Context(), c.Param("message_id"))
	if storage.IsNotFound(err) {
		abort(c, http.StatusNotFound, "not_found", "邮件未找到")
		return
	}
	if err != nil {
		_ = c.Error(err)
		abort(c, http.StatusInternalServerError, "database_error", "获取邮件详情错误")
		return
	}
	c.JSON(http.StatusOK, rec)
}

func (s *Server) getLogs(c *gin.Context) {
	limit, ok := intQuery(c, "limit", 50)
	if !ok {
		return
	}
	activityType := c.Query("activity_type")

	logs, err := s.deps.Store.GetLogs(c.Request.Context(), limit, activityType)
	if err != nil {
		_ = c.Error(err)
		abort(c, http.StatusInternalServerError, "database_error", "获取日志错误")
		return
	}
	if logs == nil {
		logs = []*storage.ActivityLog{}
	}

	resp := gin.H{"logs": logs, "count": len(logs), "activity_type": nil}
	if activityType != "" {
		resp["activity_type"] = activityType
	}
	c.JSON(http.StatusOK, resp)
}

func (s *Server) statistics(c *gin.Context) {
	stats, err := s.deps.Store.GetStatistics(c.Request.Context())
	if err != nil {
		_ = c.Error(err)
		abort(c, http.StatusInternalServerError, "database_error", "获取统计信息错误")
		return
	}
	c.JSON(http.StatusOK, stats)
}

func (s *Server) testSend(c *gin.Context) {
	ctx := c.Request.Context()
	to := c.Query("to_email")
	if to == "" {
		abort(c, http.StatusBadRequest, "invalid_parameter", "缺少参数 to_email")
		return
	}

	result := s.deps.Mailer.SendTest(ctx, to, c.Query("test_subject"))

	activity, level, message := "test_email_sent", "info", "测试邮件发送成功"
	if !result.Success {
		activity, level, message = "test_email_failed", "error", "测试邮件发送失败: "+result.Error
	}
	if err := s.deps.Store.LogActivity(ctx, activity, level, map[string]any{
		"to":     to,
		"method": result.Method,
		"error":  result.Error,
	}); err != nil {
		s.logger.Warn().Err(err).Str("activity_type", activity).Msg("Failed to log activity")
	}

	c.JSON(http.StatusOK, gin.H{
		"success":    result.Success,
		"method":     result.Method,
		"message_id": result.MessageID,
		"to":         to,
		"message":    message,
	})
}

type analyzeRequest struct {
	Text            string `json:"text" form:"text" binding:"required"`
	Sender          string `json:"sender" form:"sender"`
	UserInstruction string `json:"user_instruction" form:"user_instruction"`
}

func (s *Server) analyze(c *gin.Context) {
	var req analyzeRequest
	if err := c.ShouldBind(&req); err != nil {
		abort(c, http.StatusBadRequest, "invalid_request", "缺少参数 text")
		return
	}

	result := s.deps.Pipeline.Analyze(c.Request.Context(), req.Text, req.Sender, req.UserInstruction)

	preview := req.Text
	if utf8.RuneCountInString(preview) > 200 {
		preview = email.TruncateRunes(preview, 200) + "..."
	}
	instruction := req.UserInstruction
	if instruction == "" {
		instruction = "无"
	}

	c.JSON(http.StatusOK, gin.H{
		"text":             preview,
		"user_instruction": instruction,
		"analysis":         result,
	})
}

func (s *Server) cleanup(c *gin.Context) {
	ctx := c.Request.Context()
	days, ok := intQuery(c, "days", 30)
	if !ok {
		return
	}

	result, err := s.deps.Store.CleanupOldData(ctx, days)
	if err != nil {
		_ = c.Error(err)
		abort(c, http.StatusInternalServerError, "database_error", "数据清理错误")
		return
	}

	if err := s.deps.Store.LogActivity(ctx, "data_cleanup", "info", map[string]any{
		"days":             days,
		"cleaned_emails":   result.CleanedEmails,
		"cleaned_logs":     result.CleanedLogs,
		"remaining_emails": result.RemainingEmails,
		"remaining_logs":   result.RemainingLogs,
		"trigger":          "api",
	}); err != nil {
		s.logger.Warn().Err(err).Msg("Failed to log activity")
	}

	c.JSON(http.StatusOK, result)
}
