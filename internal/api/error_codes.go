// internal/api/error_codes.go
package api

// API错误代码常量
const (
	// 通用错误
	ErrorBadRequest    = "BAD_REQUEST"
	ErrorNotFound      = "NOT_FOUND"
	ErrorInternalError = "INTERNAL_ERROR"
	ErrorConflict      = "CONFLICT"
	ErrorForbidden     = "FORBIDDEN"

	// 脚本相关错误
	ErrorScriptNotFound     = "SCRIPT_NOT_FOUND"
	ErrorScriptGenFailed    = "SCRIPT_GENERATION_FAILED"
	ErrorScriptInvalid      = "SCRIPT_INVALID"
	ErrorRunNotFound        = "RUN_NOT_FOUND"
	ErrorInvalidGenRequest  = "INVALID_GENERATION_REQUEST"

	// 新闻侦察相关错误
	ErrorHeadlineFetchFailed = "HEADLINE_FETCH_FAILED"
	ErrorNoUsableHeadlines   = "NO_USABLE_HEADLINES"
	ErrorNewsAPIKeyMissing   = "NEWSAPI_KEY_MISSING"

	// LLM服务相关错误
	ErrorLLMServiceUnavailable = "LLM_SERVICE_UNAVAILABLE"
	ErrorLLMConfigInvalid      = "LLM_CONFIG_INVALID"
	ErrorConnectionFailed      = "CONNECTION_FAILED"

	// 配置健康相关
	ErrorConfigUnhealthy    = "CONFIG_UNHEALTHY"
	ErrorConfigNotLoaded    = "CONFIG_NOT_LOADED"
	ErrorLLMProviderMissing = "LLM_PROVIDER_MISSING"
	ErrorAPIKeyMissing      = "API_KEY_MISSING"
	ErrorStyleGuideInvalid  = "STYLE_GUIDE_INVALID"
)
