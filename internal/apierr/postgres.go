package apierr

import "github.com/lib/pq"

// PostgreSQL error codes with user-facing messages
const (
	CodeUniqueViolation      = "23505"
	CodeNotNullViolation     = "23502"
	CodeForeignKeyViolation  = "23503"
	CodeCheckViolation       = "23514"
	CodeInvalidTextRepr      = "22P02"
	CodeStringDataRightTrunc = "22001"
)

// uniqueMessages holds per-constraint messages for unique violations
var uniqueMessages = map[string]string{
	"accounts_email_key":          "این ایمیل قبلاً ثبت شده است.",
	"accounts_phone_hash_key":     "این شماره موبایل قبلاً ثبت شده است.",
	"accounts_oidc_subject_key":   "این حساب قبلاً متصل شده است.",
	"blog_categories_slug_key":    "دسته‌بندی با این نامک وجود دارد.",
	"blog_posts_slug_key":         "نوشته‌ای با این نامک وجود دارد.",
	"profile_instruments_unique":  "این ساز قبلاً به پروفایل اضافه شده است.",
	"band_members_active_pair":    "درخواست یا عضویت فعالی بین این گروه و نوازنده وجود دارد.",
	"school_teachers_active_pair": "درخواست یا همکاری فعالی بین این آموزشگاه و مدرس وجود دارد.",
}

var codeMessages = map[pq.ErrorCode]string{
	CodeUniqueViolation:      "این مورد قبلاً ثبت شده است.",
	CodeNotNullViolation:     "یکی از فیلدهای الزامی خالی است.",
	CodeForeignKeyViolation:  "مورد مرتبط یافت نشد یا هنوز در حال استفاده است.",
	CodeCheckViolation:       "مقدار واردشده مجاز نیست.",
	CodeInvalidTextRepr:      "قالب شناسه یا مقدار واردشده نادرست است.",
	CodeStringDataRightTrunc: "متن واردشده بیش از حد طولانی است.",
}

// PostgresMessage returns the Persian message for a constraint or input error.
// Errors outside the handled codes report false.
func PostgresMessage(err *pq.Error) (string, bool) {
	if err.Code == CodeUniqueViolation {
		if msg, ok := uniqueMessages[err.Constraint]; ok {
			return msg, true
		}
	}
	msg, ok := codeMessages[err.Code]
	return msg, ok
}
