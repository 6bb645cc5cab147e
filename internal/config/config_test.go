package config

import (
	"os"
	"path/filepath"
	"testing"
)

func TestLoadAppliesDefaults(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "treasury.json")
	content := `{
  "treasury": {"token": "0x0000000000000000000000000000000000000101"}
}`
	if err := os.WriteFile(path, []byte(content), 0o644); err != nil {
		t.Fatalf("写入配置失败: %v", err)
	}

	cfg, err := Load(path)
	if err != nil {
		t.Fatalf("加载配置失败: %v", err)
	}
	if cfg.Server.Address != ":8080" {
		t.Fatalf("监听地址默认值错误: %s", cfg.Server.Address)
	}
	if cfg.Storage.Driver != "file" {
		t.Fatalf("存储驱动默认值错误: %s", cfg.Storage.Driver)
	}
	if cfg.Storage.FilePath != filepath.Join(dir, "data", "ledger.json") {
		t.Fatalf("账本路径默认值错误: %s", cfg.Storage.FilePath)
	}
	if cfg.Journal.Driver != "memory" {
		t.Fatalf("日志驱动默认值错误: %s", cfg.Journal.Driver)
	}
	if cfg.Treasury.MarkupBps != 11000 || cfg.Treasury.TaxChunkBlocks != 10 {
		t.Fatalf("金库参数默认值错误: %+v", cfg.Treasury)
	}
	if cfg.Treasury.Token != "0x0000000000000000000000000000000000000101" {
		t.Fatalf("显式字段被默认值覆盖: %s", cfg.Treasury.Token)
	}
}

func TestLoadResolvesRelativePaths(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "treasury.json")
	content := `{
  "chain": {"definitions_path": "chains.yaml"},
  "storage": {"file_path": "state/ledger.json", "legacy_snapshot_path": "old/snapshot.json"}
}`
	if err := os.WriteFile(path, []byte(content), 0o644); err != nil {
		t.Fatalf("写入配置失败: %v", err)
	}

	cfg, err := Load(path)
	if err != nil {
		t.Fatalf("加载配置失败: %v", err)
	}
	if cfg.Chain.DefinitionsPath != filepath.Join(dir, "chains.yaml") {
		t.Fatalf("链注册表路径未解析: %s", cfg.Chain.DefinitionsPath)
	}
	if cfg.Storage.FilePath != filepath.Join(dir, "state", "ledger.json") {
		t.Fatalf("账本路径未解析: %s", cfg.Storage.FilePath)
	}
	if cfg.Storage.LegacySnapshotPath != filepath.Join(dir, "old", "snapshot.json") {
		t.Fatalf("旧快照路径未解析: %s", cfg.Storage.LegacySnapshotPath)
	}
}

func TestLoadLoadsDotEnv(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "treasury.json")
	if err := os.WriteFile(path, []byte(`{}`), 0o644); err != nil {
		t.Fatalf("写入配置失败: %v", err)
	}
	envPath := filepath.Join(dir, ".env")
	if err := os.WriteFile(envPath, []byte(EnvMarketAPIKey+"=sk-test\n"), 0o644); err != nil {
		t.Fatalf("写入 .env 失败: %v", err)
	}
	t.Setenv(EnvMarketAPIKey, "")
	os.Unsetenv(EnvMarketAPIKey)

	if _, err := Load(path); err != nil {
		t.Fatalf("加载配置失败: %v", err)
	}
	if MarketAPIKey() != "sk-test" {
		t.Fatalf("未从 .env 读取密钥: %q", MarketAPIKey())
	}
}

func TestLoadRejectsMissingFile(t *testing.T) {
	if _, err := Load(filepath.Join(t.TempDir(), "absent.json")); err == nil {
		t.Fatal("缺失文件应报错")
	}
}
