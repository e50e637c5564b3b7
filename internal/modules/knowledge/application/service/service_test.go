package service

import (
	"context"
	"path/filepath"
	"sync"
	"testing"

	"KnowledgeHub/internal/modules/knowledge/application/dto/request"
	"KnowledgeHub/internal/modules/knowledge/application/dto/respond"
	"KnowledgeHub/internal/modules/knowledge/domain/kb"
	"KnowledgeHub/internal/modules/knowledge/domain/repository"
	"KnowledgeHub/internal/modules/knowledge/infrastructure/chunking"
	"KnowledgeHub/internal/modules/knowledge/infrastructure/embedding"
	"KnowledgeHub/internal/modules/knowledge/infrastructure/extract"
	"KnowledgeHub/internal/modules/knowledge/infrastructure/vectordb"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// memDocRepo 进程内元数据仓储，CreateChunks 像数据库一样回填自增 ID
type memDocRepo struct {
	mu     sync.Mutex
	nextID int64
	docs   map[string]*kb.KBDocument
	chunks map[int64]*kb.KBChunk
	logs   []kb.KBSearchLog
}

func newMemDocRepo() *memDocRepo {
	return &memDocRepo{
		docs:   make(map[string]*kb.KBDocument),
		chunks: make(map[int64]*kb.KBChunk),
	}
}

func (m *memDocRepo) CreateDocument(ctx context.Context, doc *kb.KBDocument) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.docs[doc.Uuid] = doc
	return nil
}

func (m *memDocRepo) GetDocumentByUuid(ctx context.Context, uuid string) (*kb.KBDocument, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.docs[uuid], nil
}

func (m *memDocRepo) GetDocumentByContentHash(ctx context.Context, hash string) (*kb.KBDocument, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	for _, d := range m.docs {
		if d.ContentHash == hash {
			return d, nil
		}
	}
	return nil, nil
}

func (m *memDocRepo) GetDocumentByFileName(ctx context.Context, fileName, department string) (*kb.KBDocument, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	for _, d := range m.docs {
		if d.FileName == fileName && d.Department == department {
			return d, nil
		}
	}
	return nil, nil
}

func (m *memDocRepo) ListDocuments(ctx context.Context, department string, admin bool) ([]kb.KBDocument, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	var out []kb.KBDocument
	for _, d := range m.docs {
		if admin || d.Department == "" || d.Department == department {
			out = append(out, *d)
		}
	}
	return out, nil
}

func (m *memDocRepo) MarkDocumentIndexed(ctx context.Context, uuid string, chunkCount int) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if d, ok := m.docs[uuid]; ok {
		d.Status = kb.DocumentStatusIndexed
		d.ChunkCount = chunkCount
	}
	return nil
}

func (m *memDocRepo) DeleteDocument(ctx context.Context, uuid string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	delete(m.docs, uuid)
	return nil
}

func (m *memDocRepo) CreateChunks(ctx context.Context, chunks []kb.KBChunk) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	for i := range chunks {
		m.nextID++
		chunks[i].Id = m.nextID
		c := chunks[i]
		m.chunks[c.Id] = &c
	}
	return nil
}

func (m *memDocRepo) GetChunksByIDs(ctx context.Context, chunkIDs []int64) (map[int64]*kb.KBChunk, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	out := make(map[int64]*kb.KBChunk)
	for _, id := range chunkIDs {
		if c, ok := m.chunks[id]; ok {
			out[id] = c
		}
	}
	return out, nil
}

func (m *memDocRepo) DeleteChunksByDocument(ctx context.Context, documentUuid string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	for id, c := range m.chunks {
		if c.DocumentUuid == documentUuid {
			delete(m.chunks, id)
		}
	}
	return nil
}

func (m *memDocRepo) GetDocumentsByUuids(ctx context.Context, uuids []string) (map[string]*kb.KBDocument, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	out := make(map[string]*kb.KBDocument)
	for _, u := range uuids {
		if d, ok := m.docs[u]; ok {
			out[u] = d
		}
	}
	return out, nil
}

func (m *memDocRepo) CountDocuments(ctx context.Context) (int64, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	return int64(len(m.docs)), nil
}

func (m *memDocRepo) CountChunks(ctx context.Context) (int64, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	return int64(len(m.chunks)), nil
}

func (m *memDocRepo) LogSearch(ctx context.Context, entry *kb.KBSearchLog) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.logs = append(m.logs, *entry)
	return nil
}

var _ repository.DocumentRepository = (*memDocRepo)(nil)

type noPressure struct{}

func (noPressure) UsedMB() int   { return 0 }
func (noPressure) ForceRelease() {}

const svcDim = 8

type svcFixture struct {
	ingest *IngestService
	docs   *DocumentService
	repo   *memDocRepo
	index  *vectordb.FlatIndex
}

func newSvcFixture(t *testing.T) *svcFixture {
	t.Helper()
	repo := newMemDocRepo()
	index := vectordb.NewFlatIndex(svcDim, filepath.Join(t.TempDir(), "index.snap"), 0.3)
	scheduler := embedding.NewBatchScheduler(embedding.NewMockEmbedder(svcDim), noPressure{}, embedding.BatchSchedulerConfig{
		Dim: svcDim, SoftLimitMB: 4096, HardLimitMB: 6000, MaxBatchSize: 8, MinBatchSize: 1,
	})
	chunker := chunking.NewSimpleChunker(64, 8)
	registry := extract.NewRegistry(extract.NewPlainTextExtractor(), extract.NewMarkdownExtractor())

	return &svcFixture{
		ingest: NewIngestService(repo, index, chunker, scheduler, registry, nil, ""),
		docs:   NewDocumentService(repo, index),
		repo:   repo,
		index:  index,
	}
}

var adminID = kb.Identity{UserID: "admin-1", Role: kb.RoleAdmin}

func TestIngest_HappyPath(t *testing.T) {
	fx := newSvcFixture(t)

	resp, err := fx.ingest.IngestDocuments(context.Background(), adminID, []request.IngestItem{
		{FileName: "handbook.txt", Department: "研发部", Content: "第一段说明。第二段更长的说明内容，会被切成多个片段。"},
	})
	require.NoError(t, err)
	require.Len(t, resp.Outcomes, 1)

	out := resp.Outcomes[0]
	assert.Equal(t, respond.IngestStatusIndexed, out.Status)
	assert.NotEmpty(t, out.DocumentUuid)
	assert.Greater(t, out.ChunkCount, 0)

	doc, err := fx.repo.GetDocumentByUuid(context.Background(), out.DocumentUuid)
	require.NoError(t, err)
	require.NotNil(t, doc)
	assert.Equal(t, kb.DocumentStatusIndexed, doc.Status)
	assert.Equal(t, out.ChunkCount, doc.ChunkCount)
	assert.Equal(t, out.ChunkCount, fx.index.Stats().LiveEntries)
}

func TestIngest_DuplicateContentSkipped(t *testing.T) {
	fx := newSvcFixture(t)
	ctx := context.Background()
	content := "完全相同的文档内容。"

	first, err := fx.ingest.IngestDocuments(ctx, adminID, []request.IngestItem{
		{FileName: "a.txt", Content: content},
	})
	require.NoError(t, err)
	require.Equal(t, respond.IngestStatusIndexed, first.Outcomes[0].Status)

	second, err := fx.ingest.IngestDocuments(ctx, adminID, []request.IngestItem{
		{FileName: "b.txt", Content: content},
	})
	require.NoError(t, err)
	assert.Equal(t, respond.IngestStatusDuplicate, second.Outcomes[0].Status)
	// duplicate 指回原文档
	assert.Equal(t, first.Outcomes[0].DocumentUuid, second.Outcomes[0].DocumentUuid)

	count, _ := fx.repo.CountDocuments(ctx)
	assert.EqualValues(t, 1, count)
}

func TestIngest_ReingestAfterDelete(t *testing.T) {
	fx := newSvcFixture(t)
	ctx := context.Background()
	content := "删除后允许重新入库的内容。"

	first, err := fx.ingest.IngestDocuments(ctx, adminID, []request.IngestItem{
		{FileName: "a.txt", Content: content},
	})
	require.NoError(t, err)
	uuid := first.Outcomes[0].DocumentUuid

	require.NoError(t, fx.docs.DeleteDocument(ctx, adminID, uuid))

	// 去重只对未删除文档生效
	second, err := fx.ingest.IngestDocuments(ctx, adminID, []request.IngestItem{
		{FileName: "a.txt", Content: content},
	})
	require.NoError(t, err)
	assert.Equal(t, respond.IngestStatusIndexed, second.Outcomes[0].Status)
	assert.NotEqual(t, uuid, second.Outcomes[0].DocumentUuid)
}

func TestIngest_SameFileNewContentReplacesOld(t *testing.T) {
	fx := newSvcFixture(t)
	ctx := context.Background()

	first, err := fx.ingest.IngestDocuments(ctx, adminID, []request.IngestItem{
		{FileName: "policy.txt", Department: "研发部", Content: "旧版本的制度内容。"},
	})
	require.NoError(t, err)
	oldUuid := first.Outcomes[0].DocumentUuid

	second, err := fx.ingest.IngestDocuments(ctx, adminID, []request.IngestItem{
		{FileName: "policy.txt", Department: "研发部", Content: "新版本的制度内容，已经和旧版不一样了。"},
	})
	require.NoError(t, err)
	out := second.Outcomes[0]
	require.Equal(t, respond.IngestStatusIndexed, out.Status)
	assert.NotEqual(t, oldUuid, out.DocumentUuid)

	// 旧文档及其派生数据已全部下线
	oldDoc, err := fx.repo.GetDocumentByUuid(ctx, oldUuid)
	require.NoError(t, err)
	assert.Nil(t, oldDoc)

	count, _ := fx.repo.CountDocuments(ctx)
	assert.EqualValues(t, 1, count)
	assert.Equal(t, out.ChunkCount, fx.index.Stats().LiveEntries)
}

func TestIngest_ReplaceForbiddenForOtherResearchers(t *testing.T) {
	fx := newSvcFixture(t)
	ctx := context.Background()

	_, err := fx.ingest.IngestDocuments(ctx, adminID, []request.IngestItem{
		{FileName: "shared.txt", Department: "研发部", Content: "管理员上传的版本。"},
	})
	require.NoError(t, err)

	researcher := kb.Identity{UserID: "res-1", Role: kb.RoleResearcher, Department: "研发部"}
	resp, err := fx.ingest.IngestDocuments(ctx, researcher, []request.IngestItem{
		{FileName: "shared.txt", Department: "研发部", Content: "研究员想覆盖别人的文档。"},
	})
	require.NoError(t, err)
	assert.Equal(t, respond.IngestStatusFailed, resp.Outcomes[0].Status)

	count, _ := fx.repo.CountDocuments(ctx)
	assert.EqualValues(t, 1, count)
}

func TestIngest_SiblingFailureIsolated(t *testing.T) {
	fx := newSvcFixture(t)

	resp, err := fx.ingest.IngestDocuments(context.Background(), adminID, []request.IngestItem{
		{FileName: "broken.pdf", Content: "binary"},
		{FileName: "good.txt", Content: "正常的文档内容。"},
	})
	require.NoError(t, err)
	require.Len(t, resp.Outcomes, 2)
	assert.Equal(t, respond.IngestStatusFailed, resp.Outcomes[0].Status)
	assert.NotEmpty(t, resp.Outcomes[0].Reason)
	assert.Equal(t, respond.IngestStatusIndexed, resp.Outcomes[1].Status)
}

func TestIngest_FailureLeavesNoResidue(t *testing.T) {
	fx := newSvcFixture(t)
	ctx := context.Background()

	resp, err := fx.ingest.IngestDocuments(ctx, adminID, []request.IngestItem{
		{FileName: "empty.txt", Content: "   "},
	})
	require.NoError(t, err)
	assert.Equal(t, respond.IngestStatusFailed, resp.Outcomes[0].Status)

	docCount, _ := fx.repo.CountDocuments(ctx)
	chunkCount, _ := fx.repo.CountChunks(ctx)
	assert.EqualValues(t, 0, docCount)
	assert.EqualValues(t, 0, chunkCount)
	assert.Equal(t, 0, fx.index.Stats().LiveEntries)
}

func TestIngest_ViewerForbidden(t *testing.T) {
	fx := newSvcFixture(t)
	_, err := fx.ingest.IngestDocuments(context.Background(),
		kb.Identity{UserID: "v1", Role: kb.RoleViewer, Department: "研发部"},
		[]request.IngestItem{{FileName: "a.txt", Content: "内容"}})
	require.Error(t, err)
}

func TestIngest_ResearcherDepartmentForced(t *testing.T) {
	fx := newSvcFixture(t)
	researcher := kb.Identity{UserID: "r1", Role: kb.RoleResearcher, Department: "研发部"}

	resp, err := fx.ingest.IngestDocuments(context.Background(), researcher, []request.IngestItem{
		{FileName: "a.txt", Department: "销售部", Content: "研究员试图投放到别的部门。"},
	})
	require.NoError(t, err)
	require.Equal(t, respond.IngestStatusIndexed, resp.Outcomes[0].Status)

	doc, err := fx.repo.GetDocumentByUuid(context.Background(), resp.Outcomes[0].DocumentUuid)
	require.NoError(t, err)
	assert.Equal(t, "研发部", doc.Department, "研究员上传一律归到本人部门")
}

func TestDelete_RemovesAllDerivedData(t *testing.T) {
	fx := newSvcFixture(t)
	ctx := context.Background()

	resp, err := fx.ingest.IngestDocuments(ctx, adminID, []request.IngestItem{
		{FileName: "a.txt", Content: "要被删除的文档内容。"},
	})
	require.NoError(t, err)
	uuid := resp.Outcomes[0].DocumentUuid

	require.NoError(t, fx.docs.DeleteDocument(ctx, adminID, uuid))

	doc, _ := fx.repo.GetDocumentByUuid(ctx, uuid)
	assert.Nil(t, doc)
	chunkCount, _ := fx.repo.CountChunks(ctx)
	assert.EqualValues(t, 0, chunkCount)
	assert.Equal(t, 0, fx.index.Stats().LiveEntries)

	// 再删一次：NotFound
	err = fx.docs.DeleteDocument(ctx, adminID, uuid)
	require.Error(t, err)
}

func TestDelete_ResearcherOnlyOwnDocs(t *testing.T) {
	fx := newSvcFixture(t)
	ctx := context.Background()

	resp, err := fx.ingest.IngestDocuments(ctx, adminID, []request.IngestItem{
		{FileName: "a.txt", Department: "研发部", Content: "管理员上传的文档。"},
	})
	require.NoError(t, err)
	uuid := resp.Outcomes[0].DocumentUuid

	researcher := kb.Identity{UserID: "r1", Role: kb.RoleResearcher, Department: "研发部"}
	err = fx.docs.DeleteDocument(ctx, researcher, uuid)
	require.Error(t, err, "不是本人上传的不能删")

	// 本人上传的可以删
	own, err := fx.ingest.IngestDocuments(ctx, researcher, []request.IngestItem{
		{FileName: "mine.txt", Content: "研究员自己的文档。"},
	})
	require.NoError(t, err)
	require.NoError(t, fx.docs.DeleteDocument(ctx, researcher, own.Outcomes[0].DocumentUuid))
}

func TestStats_ReflectsState(t *testing.T) {
	fx := newSvcFixture(t)
	ctx := context.Background()

	resp, err := fx.ingest.IngestDocuments(ctx, adminID, []request.IngestItem{
		{FileName: "a.txt", Content: "第一份文档内容。"},
		{FileName: "b.txt", Content: "第二份不同的文档内容。"},
	})
	require.NoError(t, err)
	require.Equal(t, respond.IngestStatusIndexed, resp.Outcomes[0].Status)
	require.Equal(t, respond.IngestStatusIndexed, resp.Outcomes[1].Status)

	stats, err := fx.docs.Stats(ctx)
	require.NoError(t, err)
	assert.EqualValues(t, 2, stats.DocumentCount)
	assert.Greater(t, stats.IndexLive, 0)
	assert.Equal(t, svcDim, stats.Dimension)
	assert.False(t, stats.NeedsRebuild)
}

func TestListDocuments_RoleScoped(t *testing.T) {
	fx := newSvcFixture(t)
	ctx := context.Background()

	_, err := fx.ingest.IngestDocuments(ctx, adminID, []request.IngestItem{
		{FileName: "global.txt", Content: "全局文档。"},
		{FileName: "rd.txt", Department: "研发部", Content: "研发部文档。"},
		{FileName: "sales.txt", Department: "销售部", Content: "销售部文档。"},
	})
	require.NoError(t, err)

	all, err := fx.docs.ListDocuments(ctx, adminID)
	require.NoError(t, err)
	assert.Len(t, all, 3)

	rd, err := fx.docs.ListDocuments(ctx, kb.Identity{UserID: "r1", Role: kb.RoleResearcher, Department: "研发部"})
	require.NoError(t, err)
	assert.Len(t, rd, 2)
	for _, d := range rd {
		assert.NotEqual(t, "销售部", d.Department)
	}
}
