// Package apierr turns service and database errors into the JSON error bodies the
// API returns. Every response has the shape {"error": "<message>"}; messages shown to
// users are Persian.
package apierr

import (
	"errors"
	"log/slog"
	"net/http"

	"github.com/gin-gonic/gin"
	"github.com/lib/pq"

	"github.com/bandyab/bandyab/internal/domain"
)

// requestIDKey mirrors middleware.RequestIDKey
const requestIDKey = "request_id"

// Generic messages
const (
	MsgInternal        = "خطای داخلی سرور رخ داد. لطفاً دوباره تلاش کنید."
	MsgUnauthenticated = "برای ادامه وارد حساب کاربری شوید."
	MsgForbidden       = "شما اجازه انجام این کار را ندارید."
	MsgNotFound        = "مورد درخواستی یافت نشد."
	MsgInvalidRequest  = "درخواست نامعتبر است."
)

var sentinelMessages = []struct {
	err    error
	status int
	msg    string
}{
	{domain.ErrUnauthenticated, http.StatusUnauthorized, MsgUnauthenticated},
	{domain.ErrInvalidCredentials, http.StatusUnauthorized, "ایمیل یا رمز عبور نادرست است."},
	{domain.ErrForbidden, http.StatusForbidden, MsgForbidden},
	{domain.ErrProfileNotFound, http.StatusNotFound, "پروفایل یافت نشد."},
	{domain.ErrMembershipNotFound, http.StatusNotFound, "درخواست عضویت یافت نشد."},
	{domain.ErrEventNotFound, http.StatusNotFound, "رویداد یافت نشد."},
	{domain.ErrPostNotFound, http.StatusNotFound, "نوشته یافت نشد."},
	{domain.ErrMessageNotFound, http.StatusNotFound, "پیام یافت نشد."},
	{domain.ErrNotFound, http.StatusNotFound, MsgNotFound},
	{domain.ErrDuplicateMembership, http.StatusBadRequest, "درخواست یا عضویت فعالی بین این دو پروفایل وجود دارد."},
	{domain.ErrInvalidTransition, http.StatusBadRequest, "این عملیات در وضعیت فعلی امکان‌پذیر نیست."},
	{domain.ErrWrongCategory, http.StatusBadRequest, "نوع پروفایل برای این ارتباط مناسب نیست."},
	{domain.ErrAccountExists, http.StatusBadRequest, "حسابی با این مشخصات قبلاً ثبت شده است."},
	{domain.ErrCodeExpired, http.StatusBadRequest, "کد تأیید منقضی شده است. دوباره درخواست کنید."},
	{domain.ErrCodeMismatch, http.StatusBadRequest, "کد تأیید نادرست است."},
	{domain.ErrInvalidPhone, http.StatusBadRequest, "شماره موبایل معتبر نیست."},
	{domain.ErrCaptchaFailed, http.StatusBadRequest, "تأیید کپچا ناموفق بود."},
	{domain.ErrUnsupportedMedia, http.StatusBadRequest, "فقط تصاویر JPEG، PNG، WebP و GIF پذیرفته می‌شوند."},
	{domain.ErrFileTooLarge, http.StatusBadRequest, "حجم فایل بیش از حد مجاز است."},
	{domain.ErrConflict, http.StatusConflict, "این مورد هم‌زمان تغییر کرده است. صفحه را تازه کنید."},
	{domain.ErrTooManyAttempts, http.StatusTooManyRequests, "تعداد تلاش‌ها بیش از حد مجاز است. کد جدید درخواست کنید."},
	{domain.ErrRateLimited, http.StatusTooManyRequests, "تعداد درخواست‌ها بیش از حد مجاز است. کمی بعد تلاش کنید."},
}

// Classify returns the HTTP status and user-facing message for err. The boolean is
// false when err is not a known client error and must be logged.
func Classify(err error) (int, string, bool) {
	var ve *domain.ValidationError
	if errors.As(err, &ve) {
		return http.StatusBadRequest, ve.Message, true
	}
	for _, s := range sentinelMessages {
		if errors.Is(err, s.err) {
			return s.status, s.msg, true
		}
	}
	var pqErr *pq.Error
	if errors.As(err, &pqErr) {
		if msg, ok := PostgresMessage(pqErr); ok {
			return http.StatusBadRequest, msg, true
		}
	}
	return http.StatusInternalServerError, MsgInternal, false
}

// Respond writes err as a JSON error response. Unknown errors are logged with the
// request id and answered with a generic 500.
func Respond(c *gin.Context, err error) {
	status, msg, known := Classify(err)
	if !known {
		slog.Error("request failed",
			"request_id", c.GetString(requestIDKey),
			"method", c.Request.Method,
			"path", c.FullPath(),
			"error", err)
	}
	c.AbortWithStatusJSON(status, gin.H{"error": msg})
}

// BadRequest writes a 400 with the given message
func BadRequest(c *gin.Context, msg string) {
	c.AbortWithStatusJSON(http.StatusBadRequest, gin.H{"error": msg})
}

// Binding writes a 400 for a request body or query that failed to bind
func Binding(c *gin.Context, err error) {
	slog.Debug("request binding failed", "request_id", c.GetString(requestIDKey), "error", err)
	BadRequest(c, MsgInvalidRequest)
}

// Unauthorized writes a 401
func Unauthorized(c *gin.Context) {
	c.AbortWithStatusJSON(http.StatusUnauthorized, gin.H{"error": MsgUnauthenticated})
}

// Forbidden writes a 403
func Forbidden(c *gin.Context) {
	c.AbortWithStatusJSON(http.StatusForbidden, gin.H{"error": MsgForbidden})
}

// NotFound writes a 404 with the generic message
func NotFound(c *gin.Context) {
	c.AbortWithStatusJSON(http.StatusNotFound, gin.H{"error": MsgNotFound})
}
