package vectordb

import (
	"context"
	"fmt"
	"time"

	"KnowledgeHub/internal/modules/knowledge/domain/repository"
	"KnowledgeHub/pkg/xerr"
	"KnowledgeHub/pkg/zlog"

	"github.com/milvus-io/milvus-sdk-go/v2/client"
	"github.com/milvus-io/milvus-sdk-go/v2/entity"
	"go.uber.org/zap"
)

const (
	fieldID           = "id"
	fieldVector       = "vector"
	fieldDocumentUuid = "document_uuid"
	fieldChunkID      = "chunk_id"
	fieldDepartment   = "department"
	fieldIngestedAt   = "ingested_at"
)

// MilvusIndex 基于 Milvus 的 VectorIndex 实现，给超出单机内存索引规模的部署用。
// 删除与压实由服务端负责：RemoveByDocument 直接物理删除，
// Rebuild/NeedsRebuild 退化为空操作，Persist 对应 Flush，Load 对应 LoadCollection
type MilvusIndex struct {
	cli        client.Client
	collection string
	dim        int
}

func NewMilvusIndex(cli client.Client, collection string, dim int) (*MilvusIndex, error) {
	if cli == nil {
		return nil, fmt.Errorf("milvus client is nil")
	}
	if collection == "" {
		return nil, fmt.Errorf("milvus collection is empty")
	}
	return &MilvusIndex{cli: cli, collection: collection, dim: dim}, nil
}

// EnsureCollection 建表（已存在则跳过）并建 AUTOINDEX + 加载
func (s *MilvusIndex) EnsureCollection(ctx context.Context) error {
	exists, err := s.cli.HasCollection(ctx, s.collection)
	if err != nil {
		return fmt.Errorf("has collection: %w", err)
	}
	if !exists {
		schema := entity.NewSchema().
			WithName(s.collection).
			WithField(entity.NewField().WithName(fieldID).WithDataType(entity.FieldTypeVarChar).
				WithMaxLength(64).WithIsPrimaryKey(true)).
			WithField(entity.NewField().WithName(fieldVector).WithDataType(entity.FieldTypeFloatVector).
				WithDim(int64(s.dim))).
			WithField(entity.NewField().WithName(fieldDocumentUuid).WithDataType(entity.FieldTypeVarChar).
				WithMaxLength(64)).
			WithField(entity.NewField().WithName(fieldChunkID).WithDataType(entity.FieldTypeInt64)).
			WithField(entity.NewField().WithName(fieldDepartment).WithDataType(entity.FieldTypeVarChar).
				WithMaxLength(128)).
			WithField(entity.NewField().WithName(fieldIngestedAt).WithDataType(entity.FieldTypeInt64))

		if err := s.cli.CreateCollection(ctx, schema, 1); err != nil {
			return fmt.Errorf("create collection: %w", err)
		}

		index, err := entity.NewIndexAUTOINDEX(entity.COSINE)
		if err != nil {
			return fmt.Errorf("new index: %w", err)
		}
		if err := s.cli.CreateIndex(ctx, s.collection, fieldVector, index, false); err != nil {
			return fmt.Errorf("create index: %w", err)
		}
	}
	if err := s.cli.LoadCollection(ctx, s.collection, false); err != nil {
		return fmt.Errorf("load collection: %w", err)
	}
	return nil
}

func (s *MilvusIndex) Add(ctx context.Context, entries []repository.IndexEntry) error {
	if len(entries) == 0 {
		return nil
	}

	ids := make([]string, 0, len(entries))
	vectors := make([][]float32, 0, len(entries))
	docUuids := make([]string, 0, len(entries))
	chunkIDs := make([]int64, 0, len(entries))
	departments := make([]string, 0, len(entries))
	ingestedAts := make([]int64, 0, len(entries))

	for _, e := range entries {
		if len(e.Vector) != s.dim {
			return xerr.Wrap(xerr.ErrDimensionMismatch,
				fmt.Sprintf("条目 %s 为 %d 维，集合为 %d 维", e.VectorID, len(e.Vector), s.dim))
		}
		ingestedAt := e.IngestedAt
		if ingestedAt == 0 {
			ingestedAt = time.Now().UnixNano()
		}
		ids = append(ids, e.VectorID)
		vectors = append(vectors, normalize(e.Vector))
		docUuids = append(docUuids, e.DocumentUuid)
		chunkIDs = append(chunkIDs, e.ChunkID)
		departments = append(departments, e.Department)
		ingestedAts = append(ingestedAts, ingestedAt)
	}

	_, err := s.cli.Upsert(
		ctx,
		s.collection,
		"", // partition
		entity.NewColumnVarChar(fieldID, ids),
		entity.NewColumnFloatVector(fieldVector, s.dim, vectors),
		entity.NewColumnVarChar(fieldDocumentUuid, docUuids),
		entity.NewColumnInt64(fieldChunkID, chunkIDs),
		entity.NewColumnVarChar(fieldDepartment, departments),
		entity.NewColumnInt64(fieldIngestedAt, ingestedAts),
	)
	return err
}

func (s *MilvusIndex) RemoveByDocument(ctx context.Context, documentUuid string) (int, error) {
	expr := fmt.Sprintf(`%s == "%s"`, fieldDocumentUuid, documentUuid)

	// 先查数量，删除表达式本身不返回命中数
	result, err := s.cli.Query(ctx, s.collection, nil, expr, []string{fieldID})
	if err != nil {
		return 0, fmt.Errorf("query before delete: %w", err)
	}
	count := 0
	for _, col := range result {
		if col.Name() == fieldID {
			count = col.Len()
		}
	}
	if count == 0 {
		return 0, nil
	}

	if err := s.cli.Delete(ctx, s.collection, "", expr); err != nil {
		return 0, fmt.Errorf("delete: %w", err)
	}
	return count, nil
}

func (s *MilvusIndex) Search(ctx context.Context, vector []float32, k, multiplier int) ([]repository.SearchHit, error) {
	if len(vector) != s.dim {
		return nil, xerr.Wrap(xerr.ErrDimensionMismatch,
			fmt.Sprintf("查询向量 %d 维，集合为 %d 维", len(vector), s.dim))
	}
	if k <= 0 {
		return []repository.SearchHit{}, nil
	}
	if multiplier < 1 {
		multiplier = 1
	}

	sp, _ := entity.NewIndexAUTOINDEXSearchParam(1)
	res, err := s.cli.Search(
		ctx,
		s.collection,
		nil,
		"",
		[]string{fieldID, fieldDocumentUuid, fieldChunkID, fieldDepartment, fieldIngestedAt},
		[]entity.Vector{entity.FloatVector(normalize(vector))},
		fieldVector,
		entity.COSINE,
		k*multiplier,
		sp,
	)
	if err != nil {
		return nil, err
	}

	hits := make([]repository.SearchHit, 0)
	for _, sr := range res {
		if sr.Err != nil {
			return nil, sr.Err
		}
		getCol := func(name string) entity.Column {
			for _, c := range sr.Fields {
				if c.Name() == name {
					return c
				}
			}
			return nil
		}
		docCol := getCol(fieldDocumentUuid)
		chunkCol := getCol(fieldChunkID)
		deptCol := getCol(fieldDepartment)
		ingestCol := getCol(fieldIngestedAt)

		for i := 0; i < sr.ResultCount; i++ {
			id, _ := sr.IDs.GetAsString(i)
			hit := repository.SearchHit{
				Entry: repository.IndexEntry{VectorID: id},
				Score: sr.Scores[i],
			}
			if docCol != nil {
				v, _ := docCol.GetAsString(i)
				hit.Entry.DocumentUuid = v
			}
			if chunkCol != nil {
				v, _ := chunkCol.GetAsInt64(i)
				hit.Entry.ChunkID = v
			}
			if deptCol != nil {
				v, _ := deptCol.GetAsString(i)
				hit.Entry.Department = v
			}
			if ingestCol != nil {
				v, _ := ingestCol.GetAsInt64(i)
				hit.Entry.IngestedAt = v
			}
			hits = append(hits, hit)
		}
	}
	// 服务端只保证得分序，同分排序与本地索引对齐
	sortHits(hits)
	return hits, nil
}

// Rebuild 压实由 Milvus 服务端自行处理
func (s *MilvusIndex) Rebuild(ctx context.Context) error {
	return nil
}

func (s *MilvusIndex) NeedsRebuild() bool {
	return false
}

// Persist 对应 Flush，把内存段刷到持久存储
func (s *MilvusIndex) Persist(ctx context.Context) error {
	if err := s.cli.Flush(ctx, s.collection, false); err != nil {
		return fmt.Errorf("flush: %w", err)
	}
	return nil
}

func (s *MilvusIndex) Load(ctx context.Context) error {
	return s.EnsureCollection(ctx)
}

func (s *MilvusIndex) Stats() repository.IndexStats {
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	stats := repository.IndexStats{Dimension: s.dim}
	result, err := s.cli.Query(ctx, s.collection, nil, "", []string{"count(*)"})
	if err != nil {
		zlog.Warn("查询 milvus 统计失败", zap.Error(err))
		return stats
	}
	for _, col := range result {
		if col.Len() > 0 {
			if v, err := col.GetAsInt64(0); err == nil {
				stats.TotalEntries = int(v)
				stats.LiveEntries = int(v)
			}
		}
	}
	return stats
}

var _ repository.VectorIndex = (*MilvusIndex)(nil)
