package core

// DomainError 是领域层的统一错误类型。
//
// 设计原则：
//   - 所有领域层错误都使用此类型
//   - 提供错误代码（Code）和消息（Message）
//   - 支持错误检查函数（IsXXX）
//
// 使用场景：
//   - Store 错误：NOT_FOUND, NOT_SUPPORTED
//   - Catalog 错误：NOT_FOUND, UNAVAILABLE
//   - Embedding 错误：CONFIGURATION, DATA_INTEGRITY
//   - 其他领域错误
type DomainError struct {
	Code    string // 错误代码（如 "NOT_FOUND", "DATA_INTEGRITY"）
	Message string // 错误消息
	Module  string // 模块名称（如 "store", "embedding"）
}

func (e *DomainError) Error() string {
	return e.Message
}

// IsDomainError 检查错误是否为 DomainError 类型
func IsDomainError(err error) bool {
	if err == nil {
		return false
	}
	_, ok := err.(*DomainError)
	return ok
}

// GetDomainError 获取 DomainError，如果不是则返回 nil
func GetDomainError(err error) *DomainError {
	if err == nil {
		return nil
	}
	if domainErr, ok := err.(*DomainError); ok {
		return domainErr
	}
	return nil
}

// NewDomainError 创建新的领域错误
func NewDomainError(module, code, message string) *DomainError {
	return &DomainError{
		Module:  module,
		Code:    code,
		Message: message,
	}
}

// 错误代码常量
const (
	// 通用错误代码
	ErrorCodeNotFound      = "NOT_FOUND"      // 资源不存在
	ErrorCodeNotSupported  = "NOT_SUPPORTED"  // 操作不支持
	ErrorCodeUnavailable   = "UNAVAILABLE"    // 服务不可用
	ErrorCodeInvalidInput  = "INVALID_INPUT"  // 输入无效
	ErrorCodeInternalError = "INTERNAL_ERROR" // 内部错误

	// embedding 工件相关错误代码
	ErrorCodeConfiguration = "CONFIGURATION"  // 工件缺失/配置错误
	ErrorCodeDataIntegrity = "DATA_INTEGRITY" // 工件损坏或矩阵与映射不配对
)

// 模块名称常量
const (
	ModuleStore     = "store"     // 存储模块
	ModuleCatalog   = "catalog"   // 目录模块
	ModuleEmbedding = "embedding" // embedding 模型模块
	ModuleService   = "service"   // 服务模块
)

// 通用错误检查函数

// IsNotFound 检查错误是否为 NOT_FOUND
func IsNotFound(err error) bool {
	if err == nil {
		return false
	}
	if domainErr := GetDomainError(err); domainErr != nil {
		return domainErr.Code == ErrorCodeNotFound
	}
	return false
}

// IsConfigurationError 检查错误是否为 CONFIGURATION（工件缺失等）
func IsConfigurationError(err error) bool {
	if err == nil {
		return false
	}
	if domainErr := GetDomainError(err); domainErr != nil {
		return domainErr.Code == ErrorCodeConfiguration
	}
	return false
}

// IsDataIntegrityError 检查错误是否为 DATA_INTEGRITY（工件损坏/不配对）
func IsDataIntegrityError(err error) bool {
	if err == nil {
		return false
	}
	if domainErr := GetDomainError(err); domainErr != nil {
		return domainErr.Code == ErrorCodeDataIntegrity
	}
	return false
}
