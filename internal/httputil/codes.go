package httputil

// Machine-readable error codes returned alongside error messages so the
// SPA can branch without parsing human-facing text.
const (
	CodeInvalidRequestBody = "invalid_request_body"
	CodeValidationFailed   = "validation_failed"
	CodeDuplicateAccount   = "duplicate_account"
	CodeInvalidCredentials = "invalid_credentials"
	CodeAccountInactive    = "account_inactive"
	CodeEmailNotVerified   = "email_not_verified"
	CodeAlreadyVerified    = "already_verified"
	CodeInvalidToken       = "invalid_token"
	CodeTokenExpired       = "token_expired"
	CodeWeakPassword       = "weak_password"
	CodeAccessDenied       = "access_denied"
	CodeNotFound           = "not_found"
	CodeMissingAuth        = "missing_auth"
	CodeInvalidAuthHeader  = "invalid_auth_header"
	CodeTooManyRequests    = "too_many_requests"
	CodeCooldownActive     = "cooldown_active"
	CodeEmailDeliveryError = "email_delivery_error"
	CodeInternalError      = "internal_error"
)
