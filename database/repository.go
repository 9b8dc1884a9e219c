package database

import (
	"context"
	"fmt"

	"gorm.io/driver/mysql"
	"gorm.io/driver/postgres"
	"gorm.io/driver/sqlite"
	"gorm.io/gorm"
	gormlogger "gorm.io/gorm/logger"

	"quantlab/config"
)

// Repository 分析结果仓库（GORM 实现）
type Repository struct {
	db *gorm.DB
}

// New 创建仓库并自动迁移表结构
func New(cfg *config.DatabaseConfig) (*Repository, error) {
	var dialector gorm.Dialector

	switch cfg.Type {
	case "sqlite":
		dialector = sqlite.Open(cfg.DSN)
	case "postgres", "postgresql":
		dialector = postgres.Open(cfg.DSN)
	case "mysql":
		dialector = mysql.Open(cfg.DSN)
	default:
		return nil, fmt.Errorf("不支持的数据库类型: %s", cfg.Type)
	}

	logLevel := gormlogger.Silent
	switch cfg.LogLevel {
	case "error":
		logLevel = gormlogger.Error
	case "warn":
		logLevel = gormlogger.Warn
	case "info":
		logLevel = gormlogger.Info
	}

	db, err := gorm.Open(dialector, &gorm.Config{
		Logger: gormlogger.Default.LogMode(logLevel),
	})
	if err != nil {
		return nil, fmt.Errorf("打开数据库失败: %w", err)
	}

	sqlDB, err := db.DB()
	if err != nil {
		return nil, fmt.Errorf("获取底层连接失败: %w", err)
	}
	if cfg.MaxOpenConns > 0 {
		sqlDB.SetMaxOpenConns(cfg.MaxOpenConns)
	}
	if cfg.MaxIdleConns > 0 {
		sqlDB.SetMaxIdleConns(cfg.MaxIdleConns)
	}

	if err := db.AutoMigrate(&AnalysisRecord{}, &WindowRecord{}); err != nil {
		return nil, fmt.Errorf("表结构迁移失败: %w", err)
	}

	return &Repository{db: db}, nil
}

// SaveAnalysis 保存一次完整的分析结果（含窗口记录，单事务）
func (r *Repository) SaveAnalysis(ctx context.Context, record *AnalysisRecord) error {
	return r.db.WithContext(ctx).Create(record).Error
}

// GetAnalysis 按任务ID查询分析结果，owner 不匹配视为不存在
func (r *Repository) GetAnalysis(ctx context.Context, taskID, owner string) (*AnalysisRecord, error) {
	var record AnalysisRecord
	err := r.db.WithContext(ctx).
		Preload("Windows").
		Where("task_id = ? AND owner = ?", taskID, owner).
		First(&record).Error
	if err != nil {
		return nil, err
	}
	return &record, nil
}

// ListAnalyses 按 owner 分页列出历史分析
func (r *Repository) ListAnalyses(ctx context.Context, owner string, limit, offset int) ([]*AnalysisRecord, error) {
	query := r.db.WithContext(ctx).
		Where("owner = ?", owner).
		Order("created_at DESC")

	if limit > 0 {
		query = query.Limit(limit)
	}
	if offset > 0 {
		query = query.Offset(offset)
	}

	var records []*AnalysisRecord
	if err := query.Find(&records).Error; err != nil {
		return nil, err
	}
	return records, nil
}

// DeleteAnalysis 删除分析记录及其窗口记录
func (r *Repository) DeleteAnalysis(ctx context.Context, taskID, owner string) error {
	return r.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		var record AnalysisRecord
		if err := tx.Where("task_id = ? AND owner = ?", taskID, owner).First(&record).Error; err != nil {
			return err
		}
		if err := tx.Where("analysis_id = ?", record.ID).Delete(&WindowRecord{}).Error; err != nil {
			return err
		}
		return tx.Delete(&record).Error
	})
}

// Ping 健康检查
func (r *Repository) Ping(ctx context.Context) error {
	sqlDB, err := r.db.DB()
	if err != nil {
		return err
	}
	return sqlDB.PingContext(ctx)
}

// Close 关闭连接
func (r *Repository) Close() error {
	sqlDB, err := r.db.DB()
	if err != nil {
		return err
	}
	return sqlDB.Close()
}
