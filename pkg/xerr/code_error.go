package xerr

import "fmt"

// CodeError 自定义错误结构
type CodeError struct {
	Code    int    `json:"code"`
	Message string `json:"message"`
}

// Error 实现 error 接口
func (e *CodeError) Error() string {
	return fmt.Sprintf("Code: %d, Message: %s", e.Code, e.Message)
}

// Is 支持 errors.Is 按错误码匹配（包装过的错误也能命中预定义变量）
func (e *CodeError) Is(target error) bool {
	t, ok := target.(*CodeError)
	if !ok {
		return false
	}
	return e.Code == t.Code
}

// New 创建新的 CodeError
func New(code int, msg string) *CodeError {
	return &CodeError{Code: code, Message: msg}
}

// Wrap 保留错误码，附加上下文信息
func Wrap(base *CodeError, msg string) *CodeError {
	return &CodeError{Code: base.Code, Message: base.Message + ": " + msg}
}

// 常用通用错误码
const (
	OK                  = 200
	BadRequest          = 400
	Unauthorized        = 401
	Forbidden           = 403
	NotFound            = 404
	InternalServerError = 500
)

// 检索核心错误码（完整性错误不可降级为普通错误）
const (
	CodeDimensionMismatch = 42201
	CodeResourceExhausted = 50701
	CodeIndexCorrupt      = 50801
	CodeExtractionFailed  = 50201
	CodeGenerationFailed  = 50202
)

// 常用预定义错误
var (
	ErrSuccess     = New(OK, "Success")
	ErrServerError = New(InternalServerError, "系统错误，请联系工作人员")
	ErrParam       = New(BadRequest, "参数错误")

	// ErrDimensionMismatch 向量维度与索引配置不一致，整批拒绝
	ErrDimensionMismatch = New(CodeDimensionMismatch, "向量维度不匹配")
	// ErrResourceExhausted 内存硬上限下最小批次仍无法完成，向上报告、不自动重试
	ErrResourceExhausted = New(CodeResourceExhausted, "内存资源耗尽")
	// ErrIndexCorrupt 索引快照无法加载，回退到空索引
	ErrIndexCorrupt = New(CodeIndexCorrupt, "索引快照损坏")
	// ErrExtraction 文档抽取失败（外部协作方错误，原样透传）
	ErrExtraction = New(CodeExtractionFailed, "文档抽取失败")
	// ErrGeneration 答案生成失败（外部协作方错误，原样透传）
	ErrGeneration = New(CodeGenerationFailed, "答案生成失败")
)
