package storage

import (
	"context"
	"errors"
	"fmt"

	"github.com/cuemby/stormctl/pkg/types"
	"gorm.io/gorm"
)

// GormStore is the gorm-backed Persistence implementation shared by the
// Postgres (production) and SQLite (test) drivers.
type GormStore struct {
	db *gorm.DB
}

// NewGormStore wraps an already-opened gorm connection, running
// AutoMigrate for the controller's three tables.
func NewGormStore(db *gorm.DB) (*GormStore, error) {
	if err := db.AutoMigrate(&nodeModel{}, &tenantShardModel{}, &leaseModel{}); err != nil {
		return nil, fmt.Errorf("migrate schema: %w", err)
	}
	return &GormStore{db: db}, nil
}

func (s *GormStore) ListNodes(ctx context.Context) ([]*types.Node, error) {
	var rows []nodeModel
	if err := s.db.WithContext(ctx).Find(&rows).Error; err != nil {
		return nil, fmt.Errorf("list nodes: %w", err)
	}
	out := make([]*types.Node, 0, len(rows))
	for i := range rows {
		out = append(out, fromNodeModel(&rows[i]))
	}
	return out, nil
}

func (s *GormStore) GetNode(ctx context.Context, id types.NodeId) (*types.Node, error) {
	var m nodeModel
	err := s.db.WithContext(ctx).First(&m, "id = ?", string(id)).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("get node %s: %w", id, err)
	}
	return fromNodeModel(&m), nil
}

func (s *GormStore) UpsertNode(ctx context.Context, node *types.Node) error {
	m := toNodeModel(node)
	if err := s.db.WithContext(ctx).Save(m).Error; err != nil {
		return fmt.Errorf("upsert node %s: %w", node.ID, err)
	}
	return nil
}

func (s *GormStore) DeleteNode(ctx context.Context, id types.NodeId) error {
	if err := s.db.WithContext(ctx).Delete(&nodeModel{}, "id = ?", string(id)).Error; err != nil {
		return fmt.Errorf("delete node %s: %w", id, err)
	}
	return nil
}

func (s *GormStore) ListTenantShards(ctx context.Context) ([]*ShardRecord, error) {
	var rows []tenantShardModel
	if err := s.db.WithContext(ctx).Find(&rows).Error; err != nil {
		return nil, fmt.Errorf("list tenant shards: %w", err)
	}
	out := make([]*ShardRecord, 0, len(rows))
	for i := range rows {
		out = append(out, fromShardModel(&rows[i]))
	}
	return out, nil
}

func (s *GormStore) ListTenantShardsForTenant(ctx context.Context, tenant types.TenantId) ([]*ShardRecord, error) {
	var rows []tenantShardModel
	if err := s.db.WithContext(ctx).Where("tenant_id = ?", string(tenant)).Find(&rows).Error; err != nil {
		return nil, fmt.Errorf("list tenant shards for %s: %w", tenant, err)
	}
	out := make([]*ShardRecord, 0, len(rows))
	for i := range rows {
		out = append(out, fromShardModel(&rows[i]))
	}
	return out, nil
}

func (s *GormStore) GetTenantShard(ctx context.Context, id types.TenantShardId) (*ShardRecord, error) {
	var m tenantShardModel
	err := s.db.WithContext(ctx).First(&m, "tenant_shard_id = ?", id.String()).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("get tenant shard %s: %w", id, err)
	}
	return fromShardModel(&m), nil
}

func (s *GormStore) InsertTenantShard(ctx context.Context, rec *ShardRecord) error {
	if err := s.db.WithContext(ctx).Create(toShardModel(rec)).Error; err != nil {
		return fmt.Errorf("insert tenant shard %s: %w", rec.TenantShardID, err)
	}
	return nil
}

func (s *GormStore) UpdateTenantShard(ctx context.Context, rec *ShardRecord) error {
	if err := s.db.WithContext(ctx).Save(toShardModel(rec)).Error; err != nil {
		return fmt.Errorf("update tenant shard %s: %w", rec.TenantShardID, err)
	}
	return nil
}

func (s *GormStore) DeleteTenantShard(ctx context.Context, id types.TenantShardId) error {
	if err := s.db.WithContext(ctx).Delete(&tenantShardModel{}, "tenant_shard_id = ?", id.String()).Error; err != nil {
		return fmt.Errorf("delete tenant shard %s: %w", id, err)
	}
	return nil
}

func (s *GormStore) IncrementGeneration(ctx context.Context, id types.TenantShardId) (types.Generation, error) {
	var gen types.Generation
	err := s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		var m tenantShardModel
		if err := tx.First(&m, "tenant_shard_id = ?", id.String()).Error; err != nil {
			if errors.Is(err, gorm.ErrRecordNotFound) {
				return ErrNotFound
			}
			return err
		}
		current := types.GenerationNone
		if m.GenerationValid {
			current = types.NewGeneration(m.Generation)
		}
		gen = current.Next()
		m.Generation = gen.Uint32()
		m.GenerationValid = true
		return tx.Save(&m).Error
	})
	if err != nil {
		return types.Generation{}, fmt.Errorf("increment generation for %s: %w", id, err)
	}
	return gen, nil
}

func (s *GormStore) ReAttach(ctx context.Context, id types.TenantShardId, node types.NodeId) (types.Generation, error) {
	var gen types.Generation
	err := s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		var m tenantShardModel
		if err := tx.First(&m, "tenant_shard_id = ?", id.String()).Error; err != nil {
			if errors.Is(err, gorm.ErrRecordNotFound) {
				return ErrNotFound
			}
			return err
		}
		current := types.GenerationNone
		if m.GenerationValid {
			current = types.NewGeneration(m.Generation)
		}
		gen = current.Next()
		m.Generation = gen.Uint32()
		m.GenerationValid = true
		m.AttachedNode = string(node)
		return tx.Save(&m).Error
	})
	if err != nil {
		return types.Generation{}, fmt.Errorf("re-attach %s to %s: %w", id, node, err)
	}
	return gen, nil
}

func (s *GormStore) Detach(ctx context.Context, id types.TenantShardId) error {
	err := s.db.WithContext(ctx).Model(&tenantShardModel{}).
		Where("tenant_shard_id = ?", id.String()).
		Update("attached_node", "").Error
	if err != nil {
		return fmt.Errorf("detach %s: %w", id, err)
	}
	return nil
}

func (s *GormStore) BeginShardSplit(ctx context.Context, tenant types.TenantId, newShardCount types.ShardCount) error {
	err := s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		var rows []tenantShardModel
		if err := tx.Where("tenant_id = ?", string(tenant)).Find(&rows).Error; err != nil {
			return err
		}
		if len(rows) == 0 {
			return ErrNotFound
		}
		for i := range rows {
			rows[i].SplitState = string(types.SplitSplitting)
			if err := tx.Save(&rows[i]).Error; err != nil {
				return err
			}
		}
		return nil
	})
	if err != nil {
		return fmt.Errorf("begin shard split for %s: %w", tenant, err)
	}
	return nil
}

// AbortShardSplit rolls a tenant back to its pre-split shard set: among
// all rows for the tenant, the group with the lowest shard count is the
// parent set that existed before begin_shard_split; any other shard-count
// group represents child rows a crash left half-created, and is deleted.
// The surviving parent rows are reset to SplitIdle.
func (s *GormStore) AbortShardSplit(ctx context.Context, tenant types.TenantId) error {
	err := s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		var rows []tenantShardModel
		if err := tx.Where("tenant_id = ?", string(tenant)).Find(&rows).Error; err != nil {
			return err
		}
		if len(rows) == 0 {
			return nil
		}
		parentCount := rows[0].ShardCount
		for _, r := range rows {
			if r.ShardCount < parentCount {
				parentCount = r.ShardCount
			}
		}
		for i := range rows {
			if rows[i].ShardCount != parentCount {
				if err := tx.Delete(&tenantShardModel{}, "tenant_shard_id = ?", rows[i].TenantShardID).Error; err != nil {
					return err
				}
				continue
			}
			rows[i].SplitState = string(types.SplitIdle)
			if err := tx.Save(&rows[i]).Error; err != nil {
				return err
			}
		}
		return nil
	})
	if err != nil {
		return fmt.Errorf("abort shard split for %s: %w", tenant, err)
	}
	return nil
}

func (s *GormStore) CompleteShardSplit(ctx context.Context, tenant types.TenantId, children []*ShardRecord) error {
	err := s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		if err := tx.Where("tenant_id = ?", string(tenant)).Delete(&tenantShardModel{}).Error; err != nil {
			return err
		}
		for _, child := range children {
			child.SplitState = types.SplitIdle
			if err := tx.Create(toShardModel(child)).Error; err != nil {
				return err
			}
		}
		return nil
	})
	if err != nil {
		return fmt.Errorf("complete shard split for %s: %w", tenant, err)
	}
	return nil
}

func (s *GormStore) TryAcquireLease(ctx context.Context, name string, holder string) (bool, error) {
	acquired := false
	err := s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		var m leaseModel
		err := tx.First(&m, "name = ?", name).Error
		if errors.Is(err, gorm.ErrRecordNotFound) {
			acquired = true
			return tx.Create(&leaseModel{Name: name, Holder: holder}).Error
		}
		if err != nil {
			return err
		}
		if m.Holder == holder || m.Holder == "" {
			acquired = true
			m.Holder = holder
			return tx.Save(&m).Error
		}
		return nil
	})
	if err != nil {
		return false, fmt.Errorf("acquire lease %s: %w", name, err)
	}
	return acquired, nil
}

func (s *GormStore) Close() error {
	sqlDB, err := s.db.DB()
	if err != nil {
		return fmt.Errorf("close store: %w", err)
	}
	return sqlDB.Close()
}
