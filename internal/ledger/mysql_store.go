package ledger

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"math/big"
	"strings"
	"time"

	_ "github.com/go-sql-driver/mysql"
)

// MySQLConfig 描述账本库的连接参数。
type MySQLConfig struct {
	DSN             string
	MaxOpenConns    int
	MaxIdleConns    int
	ConnMaxLifetime time.Duration
}

// MySQLStore 使用 MySQL 持久化账本。标量存单行表，挂单存独立表，
// 每次 Save 在同一个事务里整体替换，崩溃中途不会留下半新半旧的挂单集。
type MySQLStore struct {
	db *sql.DB
}

// NewMySQLStore 建立连接池并初始化数据表。
func NewMySQLStore(ctx context.Context, cfg MySQLConfig) (*MySQLStore, error) {
	if strings.TrimSpace(cfg.DSN) == "" {
		return nil, fmt.Errorf("MySQL DSN 不能为空")
	}
	db, err := sql.Open("mysql", cfg.DSN)
	if err != nil {
		return nil, fmt.Errorf("连接 MySQL 失败: %w", err)
	}
	if cfg.MaxOpenConns > 0 {
		db.SetMaxOpenConns(cfg.MaxOpenConns)
	} else {
		db.SetMaxOpenConns(5)
	}
	if cfg.MaxIdleConns > 0 {
		db.SetMaxIdleConns(cfg.MaxIdleConns)
	} else {
		db.SetMaxIdleConns(2)
	}
	if cfg.ConnMaxLifetime > 0 {
		db.SetConnMaxLifetime(cfg.ConnMaxLifetime)
	} else {
		db.SetConnMaxLifetime(30 * time.Minute)
	}
	if err := db.PingContext(ctx); err != nil {
		db.Close()
		return nil, fmt.Errorf("无法连接到 MySQL: %w", err)
	}

	store := &MySQLStore{db: db}
	if err := store.initSchema(ctx); err != nil {
		db.Close()
		return nil, err
	}
	return store, nil
}

// initSchema 建表并补充后续版本新增的列。模式只做增量演进，
// 不删列不改列，新旧进程可以交替读写同一个库。
func (s *MySQLStore) initSchema(ctx context.Context) error {
	const stateTable = `CREATE TABLE IF NOT EXISTS treasury_state (
        id TINYINT NOT NULL PRIMARY KEY,
        version INT NOT NULL,
        commission_pool_wei VARCHAR(78) NOT NULL DEFAULT '0',
        sale_pool_wei VARCHAR(78) NOT NULL DEFAULT '0',
        pending_burn_amount VARCHAR(78) NOT NULL DEFAULT '0',
        pending_burn_cost_wei VARCHAR(78) NOT NULL DEFAULT '0',
        last_tax_block VARCHAR(78) NOT NULL DEFAULT '0',
        updated_at BIGINT NOT NULL
)`
	const listingsTable = `CREATE TABLE IF NOT EXISTS active_listings (
        seq BIGINT AUTO_INCREMENT PRIMARY KEY,
        order_hash VARCHAR(66) NOT NULL,
        collection VARCHAR(42) NOT NULL,
        token_id VARCHAR(78) NOT NULL,
        expected_proceeds_wei VARCHAR(78) NOT NULL,
        listed_at_ms BIGINT NOT NULL,
        token_standard VARCHAR(16) NOT NULL DEFAULT 'erc721',
        UNIQUE KEY uniq_order_hash (order_hash)
)`
	if _, err := s.db.ExecContext(ctx, stateTable); err != nil {
		return fmt.Errorf("初始化 treasury_state 表失败: %w", err)
	}
	if _, err := s.db.ExecContext(ctx, listingsTable); err != nil {
		return fmt.Errorf("初始化 active_listings 表失败: %w", err)
	}

	// 版本 3 追加的列。
	if err := s.ensureColumn(ctx, "active_listings", "listed_quantity", "VARCHAR(78) NOT NULL DEFAULT '1'"); err != nil {
		return err
	}
	if err := s.ensureColumn(ctx, "active_listings", "expected_post_sale_balance", "VARCHAR(78) NULL"); err != nil {
		return err
	}
	return nil
}

func (s *MySQLStore) ensureColumn(ctx context.Context, table, column, definition string) error {
	const probe = `SELECT COUNT(*) FROM information_schema.COLUMNS
        WHERE TABLE_SCHEMA = DATABASE() AND TABLE_NAME = ? AND COLUMN_NAME = ?`
	var count int
	if err := s.db.QueryRowContext(ctx, probe, table, column).Scan(&count); err != nil {
		return fmt.Errorf("检查列 %s.%s 失败: %w", table, column, err)
	}
	if count > 0 {
		return nil
	}
	alter := fmt.Sprintf("ALTER TABLE %s ADD COLUMN %s %s", table, column, definition)
	if _, err := s.db.ExecContext(ctx, alter); err != nil {
		return fmt.Errorf("追加列 %s.%s 失败: %w", table, column, err)
	}
	return nil
}

// Load 读取账本；状态行不存在视为尚无持久化存储。
func (s *MySQLStore) Load(ctx context.Context) (*Ledger, bool, error) {
	const stateQuery = `SELECT version, commission_pool_wei, sale_pool_wei,
        pending_burn_amount, pending_burn_cost_wei, last_tax_block
        FROM treasury_state WHERE id = 1`

	var record persistedLedger
	err := s.db.QueryRowContext(ctx, stateQuery).Scan(
		&record.Version,
		&record.CommissionPoolWei,
		&record.SalePoolWei,
		&record.PendingBurnAmount,
		&record.PendingBurnCostWei,
		&record.LastTaxBlock,
	)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, false, nil
	}
	if err != nil {
		return nil, false, fmt.Errorf("查询账本状态失败: %w", err)
	}

	const listingsQuery = `SELECT order_hash, collection, token_id, expected_proceeds_wei,
        listed_at_ms, token_standard, listed_quantity, expected_post_sale_balance
        FROM active_listings ORDER BY seq ASC`
	rows, err := s.db.QueryContext(ctx, listingsQuery)
	if err != nil {
		return nil, false, fmt.Errorf("查询挂单失败: %w", err)
	}
	defer rows.Close()

	for rows.Next() {
		var entry persistedListing
		var balance sql.NullString
		if err := rows.Scan(&entry.OrderHash, &entry.Collection, &entry.TokenID,
			&entry.ExpectedProceedsWei, &entry.ListedAtMs, &entry.TokenStandard,
			&entry.ListedQuantity, &balance); err != nil {
			return nil, false, fmt.Errorf("解析挂单行失败: %w", err)
		}
		if balance.Valid {
			entry.ExpectedPostSaleBalance = &balance.String
		}
		record.Listings = append(record.Listings, entry)
	}
	if err := rows.Err(); err != nil {
		return nil, false, fmt.Errorf("遍历挂单失败: %w", err)
	}

	l, err := decodePersisted(&record)
	if err != nil {
		return nil, false, err
	}
	return l, true, nil
}

// Save 在单个事务里落盘整个账本：更新标量行，删除并重插全部挂单。
// 事务提交之前，上一个完整快照始终是权威状态。
func (s *MySQLStore) Save(ctx context.Context, l *Ledger) error {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("开启账本事务失败: %w", err)
	}
	defer tx.Rollback()

	const upsert = `INSERT INTO treasury_state
        (id, version, commission_pool_wei, sale_pool_wei, pending_burn_amount, pending_burn_cost_wei, last_tax_block, updated_at)
        VALUES (1, ?, ?, ?, ?, ?, ?, ?)
        ON DUPLICATE KEY UPDATE
        version = VALUES(version),
        commission_pool_wei = VALUES(commission_pool_wei),
        sale_pool_wei = VALUES(sale_pool_wei),
        pending_burn_amount = VALUES(pending_burn_amount),
        pending_burn_cost_wei = VALUES(pending_burn_cost_wei),
        last_tax_block = VALUES(last_tax_block),
        updated_at = VALUES(updated_at)`
	if _, err := tx.ExecContext(ctx, upsert,
		l.Version,
		weiString(l.CommissionPoolWei),
		weiString(l.SalePoolWei),
		weiString(l.PendingBurnAmount),
		weiString(l.PendingBurnCostWei),
		new(big.Int).SetUint64(l.LastTaxBlock).String(),
		time.Now().UnixMilli(),
	); err != nil {
		return fmt.Errorf("写入账本状态失败: %w", err)
	}

	if _, err := tx.ExecContext(ctx, `DELETE FROM active_listings`); err != nil {
		return fmt.Errorf("清空挂单表失败: %w", err)
	}
	const insert = `INSERT INTO active_listings
        (order_hash, collection, token_id, expected_proceeds_wei, listed_at_ms, token_standard, listed_quantity, expected_post_sale_balance)
        VALUES (?, ?, ?, ?, ?, ?, ?, ?)`
	for _, listing := range l.Listings {
		var balance any
		if listing.ExpectedPostSaleBalance != nil {
			balance = listing.ExpectedPostSaleBalance.String()
		}
		if _, err := tx.ExecContext(ctx, insert,
			listing.OrderHash.Hex(),
			listing.Collection.Hex(),
			weiString(listing.TokenID),
			weiString(listing.ExpectedProceedsWei),
			listing.ListedAtMs,
			string(listing.Standard),
			weiString(listing.Quantity),
			balance,
		); err != nil {
			return fmt.Errorf("写入挂单 %s 失败: %w", listing.OrderHash.Hex(), err)
		}
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("提交账本事务失败: %w", err)
	}
	return nil
}

// Close 关闭底层数据库连接。
func (s *MySQLStore) Close() error {
	if s == nil || s.db == nil {
		return nil
	}
	return s.db.Close()
}
