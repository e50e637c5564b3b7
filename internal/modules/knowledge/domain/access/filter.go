package access

import (
	"KnowledgeHub/internal/modules/knowledge/domain/kb"
)

// 本包是文档机密性的唯一执行点：每次向量检索之后、结果到达生成后端或
// UI 响应之前，必须经过 Filter/Redact。任何检索路径都不允许绕开。

// Eligible 单条结果对该身份是否可见。
// 角色集合是封闭的：新增角色必须扩展这里的穷举分支
func Eligible(r kb.RetrievalResult, id kb.Identity) bool {
	switch id.Role {
	case kb.RoleAdmin:
		return true
	case kb.RoleResearcher, kb.RoleViewer:
		// 本部门文档，或无部门标签的全局文档
		return r.Department == "" || r.Department == id.Department
	}
	// 未知角色一律拒绝
	return false
}

// Filter 按身份裁剪结果集：保持原有顺序，只留可见子集
func Filter(results []kb.RetrievalResult, id kb.Identity) []kb.RetrievalResult {
	out := make([]kb.RetrievalResult, 0, len(results))
	for _, r := range results {
		if Eligible(r, id) {
			out = append(out, r)
		}
	}
	return out
}

// Redact 生成面向 UI 的结果列表。
// viewer 不允许拿到可浏览的来源列表：文件名、切片正文、得分全部剥离，
// 检索到的文本只进入生成 prompt，不进入响应
func Redact(results []kb.RetrievalResult, id kb.Identity) []kb.RetrievalResult {
	if id.Role == kb.RoleViewer {
		return []kb.RetrievalResult{}
	}
	out := make([]kb.RetrievalResult, len(results))
	copy(out, results)
	return out
}
