package commands

import (
	"bytes"
	"context"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"slobstore/pkg/app"
	"slobstore/pkg/config"

	"github.com/spf13/viper"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// setupIntegrationEnv 搭建一个使用 真实文件系统 + sqlite 文件数据库 的集成环境
func setupIntegrationEnv(t *testing.T) string {
	t.Helper()
	tmpDir := t.TempDir()
	t.Chdir(tmpDir)

	viper.Reset()
	t.Cleanup(viper.Reset)
	viper.Set("database.path", filepath.Join(tmpDir, ".slob", "slob.db"))
	viper.Set("index.type", "file")
	viper.Set("index.path", filepath.Join(tmpDir, ".slob", "index.json"))
	return tmpDir
}

// run 执行一条命令并返回标准输出
func run(t *testing.T, args ...string) (string, error) {
	t.Helper()
	var out bytes.Buffer
	cmd := NewRootCmd()
	cmd.SetOut(&out)
	cmd.SetErr(&out)
	cmd.SetArgs(args)
	err := cmd.Execute()
	closeApp()
	return out.String(), err
}

func mustRun(t *testing.T, args ...string) string {
	t.Helper()
	out, err := run(t, args...)
	require.NoError(t, err, out)
	return out
}

func TestIntegration_WaveletFlow(t *testing.T) {
	setupIntegrationEnv(t)

	// 1. 创建
	out := mustRun(t, "new", "--as", "alice@example.com", "--id", "W1", "--title", "Launch")
	assert.Equal(t, "W1@1\n", out)

	// 2. 修改
	out = mustRun(t, "mutate", "W1", "--as", "alice@example.com", "--add", "bob@example.com", "--append", "ship it")
	assert.Contains(t, out, "W1@2")
	assert.Contains(t, out, "index updated")

	// 3. 非参与者被拒绝
	_, err := run(t, "mutate", "W1", "--as", "eve@example.com", "--append", "spam")
	assert.ErrorContains(t, err, "permission denied")

	// 4. 查看
	out = mustRun(t, "show", "W1")
	assert.Contains(t, out, "version:      2")
	assert.Contains(t, out, "title:        Launch")
	assert.Contains(t, out, "alice@example.com, bob@example.com")
	assert.Contains(t, out, "ship it")

	// 5. 历史
	out = mustRun(t, "history", "W1")
	assert.Equal(t, 2, strings.Count(out, "Author: alice@example.com"))

	// 6. 搜索
	out = mustRun(t, "search", "--participant", "bob@example.com")
	assert.Equal(t, "W1\n", out)
	out = mustRun(t, "search", "--word", "SHIP")
	assert.Equal(t, "W1\n", out)

	// 7. 外部索引
	out = mustRun(t, "index", "show", "W1")
	assert.Contains(t, out, "W1@2")
	assert.Contains(t, out, "Launch\nship it")
}

func TestIntegration_Errors(t *testing.T) {
	setupIntegrationEnv(t)

	_, err := run(t, "new")
	assert.ErrorIs(t, err, errNoCaller)

	_, err = run(t, "mutate", "W1", "--as", "alice@example.com")
	assert.ErrorContains(t, err, "nothing to do")

	_, err = run(t, "show", "missing")
	assert.ErrorContains(t, err, "does not exist")

	_, err = run(t, "search", "--participant", "a", "--word", "b")
	assert.ErrorContains(t, err, "exactly one")

	out := mustRun(t, "history", "missing")
	assert.Contains(t, out, "No mutations yet.")
}

func TestIntegration_IndexOutcome(t *testing.T) {
	dir := setupIntegrationEnv(t)
	mustRun(t, "new", "--as", "alice@example.com", "--id", "W1", "--title", "Draft")

	// 1. 外部索引写入失败：提交仍然成功，但不能报告 "index updated"
	require.NoError(t, config.Load(""))
	var err error
	SLOB, err = app.NewApp(context.Background())
	require.NoError(t, err)

	indexPath := filepath.Join(dir, ".slob", "index.json")
	require.NoError(t, os.Remove(indexPath))
	require.NoError(t, os.MkdirAll(filepath.Join(indexPath, "blocked"), 0755))

	out := mustRun(t, "mutate", "W1", "--as", "alice@example.com", "--title", "Launch")
	assert.Contains(t, out, "W1@2")
	assert.Contains(t, out, "index update failed")
	assert.NotContains(t, out, "index updated")

	// 2. 没有外部索引
	viper.Set("index.type", "none")
	out = mustRun(t, "mutate", "W1", "--as", "alice@example.com", "--append", "ship it")
	assert.Contains(t, out, "W1@3")
	assert.Contains(t, out, "index payload produced")
}
