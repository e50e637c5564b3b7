package access

import (
	"testing"

	"KnowledgeHub/internal/modules/knowledge/domain/kb"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func sampleResults() []kb.RetrievalResult {
	return []kb.RetrievalResult{
		{DocumentUuid: "d1", ChunkID: 1, FileName: "rd.pdf", Department: "R&D", Content: "研发路线", Score: 0.92},
		{DocumentUuid: "d2", ChunkID: 2, FileName: "handbook.md", Department: "", Content: "员工手册", Score: 0.88},
		{DocumentUuid: "d3", ChunkID: 3, FileName: "sales.docx", Department: "Sales", Content: "销售指标", Score: 0.80},
	}
}

func TestFilterAdminSeesAll(t *testing.T) {
	id := kb.Identity{UserID: "u1", Role: kb.RoleAdmin}
	got := Filter(sampleResults(), id)
	assert.Len(t, got, 3)
}

func TestFilterResearcherDepartmentRule(t *testing.T) {
	id := kb.Identity{UserID: "u2", Role: kb.RoleResearcher, Department: "R&D"}
	got := Filter(sampleResults(), id)
	require.Len(t, got, 2)
	// 顺序保持：先 R&D 再全局
	assert.Equal(t, "d1", got[0].DocumentUuid)
	assert.Equal(t, "d2", got[1].DocumentUuid)
}

func TestFilterResearcherOtherDepartmentOnlyGlobal(t *testing.T) {
	id := kb.Identity{UserID: "u3", Role: kb.RoleResearcher, Department: "HR"}
	got := Filter(sampleResults(), id)
	require.Len(t, got, 1)
	assert.Equal(t, "d2", got[0].DocumentUuid)
}

func TestFilterViewerSameEligibilityAsResearcher(t *testing.T) {
	viewer := kb.Identity{UserID: "u4", Role: kb.RoleViewer, Department: "Sales"}
	researcher := kb.Identity{UserID: "u5", Role: kb.RoleResearcher, Department: "Sales"}
	assert.Equal(t, Filter(sampleResults(), researcher), Filter(sampleResults(), viewer))
}

func TestFilterUnknownRoleDeniesEverything(t *testing.T) {
	id := kb.Identity{UserID: "u6", Role: kb.Role("guest"), Department: "R&D"}
	assert.Empty(t, Filter(sampleResults(), id))
}

// 健全性：viewer 或跨部门 researcher 不可能在输出里看到受限结果
func TestFilterSoundness(t *testing.T) {
	results := sampleResults()
	ids := []kb.Identity{
		{UserID: "a", Role: kb.RoleViewer, Department: "HR"},
		{UserID: "b", Role: kb.RoleResearcher, Department: "HR"},
		{UserID: "c", Role: kb.RoleViewer, Department: "R&D"},
	}
	for _, id := range ids {
		for _, r := range Filter(results, id) {
			if r.Department != "" && r.Department != id.Department {
				t.Fatalf("identity %s(%s) 看到了受限结果 %s", id.UserID, id.Role, r.DocumentUuid)
			}
		}
	}
}

func TestRedactViewerGetsNoSourceList(t *testing.T) {
	id := kb.Identity{UserID: "u7", Role: kb.RoleViewer, Department: "R&D"}
	eligible := Filter(sampleResults(), id)
	require.NotEmpty(t, eligible)
	assert.Empty(t, Redact(eligible, id))
}

func TestRedactResearcherKeepsAttribution(t *testing.T) {
	id := kb.Identity{UserID: "u8", Role: kb.RoleResearcher, Department: "R&D"}
	eligible := Filter(sampleResults(), id)
	got := Redact(eligible, id)
	require.Len(t, got, len(eligible))
	assert.Equal(t, "rd.pdf", got[0].FileName)
	assert.NotZero(t, got[0].Score)
}
