package i18n

import (
	"reflect"
	"sync"
)

// Language type
type Language string

const (
	LangEN Language = "en"
	LangZH Language = "zh"
)

// Messages holds all translatable strings
type Messages struct {
	// System
	Starting           string
	ConfigLoaded       string
	UsingDBPath        string
	ServerListening    string
	ShuttingDown       string
	ShutdownComplete   string
	EngineServiceInit  string
	ConfigLoadFailed   string
	DBInitFailed       string
	DBMigrationsFailed string
	APIServerError     string
	DriftStopped       string

	// Ledger
	MigrationsApplied string
	DatabaseCleared   string
	ClearFailed       string

	// Instruments
	SeedLoadFailed string
	SeedInstrument string
	SeedSkipped    string
	SeedFailed     string
	SeedComplete   string
}

var (
	mu       sync.RWMutex
	messages *Messages
)

// English messages
var messagesEN = Messages{
	// System
	Starting:           "Starting crypto market...",
	ConfigLoaded:       "Config loaded (Port: %s)",
	UsingDBPath:        "Using DB path: %s",
	ServerListening:    "Server listening on :%s",
	ShuttingDown:       "Shutting down gracefully...",
	ShutdownComplete:   "Shutdown complete",
	EngineServiceInit:  "Engine service initialized (refresh interval %s, default balance %s)",
	ConfigLoadFailed:   "Failed to load config: %v",
	DBInitFailed:       "Failed to init database: %v",
	DBMigrationsFailed: "Failed to apply migrations: %v",
	APIServerError:     "API server error: %v",
	DriftStopped:       "Price drift stopped",

	// Ledger
	MigrationsApplied: "Schema migrations applied",
	DatabaseCleared:   "All ledger tables cleared",
	ClearFailed:       "Failed to clear database: %v",

	// Instruments
	SeedLoadFailed: "Failed to load seed file %s: %v",
	SeedInstrument: "Seeded instrument %s (purchase %d, sale %d)",
	SeedSkipped:    "Instrument %s already listed, skipping",
	SeedFailed:     "Failed to seed instrument %s: %v",
	SeedComplete:   "Seeding complete: %d added, %d skipped",
}

// Chinese messages
var messagesZH = Messages{
	// System
	Starting:           "正在启动加密货币市场...",
	ConfigLoaded:       "配置已加载 (端口: %s)",
	UsingDBPath:        "使用数据库路径: %s",
	ServerListening:    "服务器监听于 :%s",
	ShuttingDown:       "正在优雅关闭...",
	ShutdownComplete:   "已关闭",
	EngineServiceInit:  "引擎服务已初始化 (报价有效期 %s, 默认余额 %s)",
	ConfigLoadFailed:   "加载配置失败: %v",
	DBInitFailed:       "初始化数据库失败: %v",
	DBMigrationsFailed: "执行迁移失败: %v",
	APIServerError:     "API 服务器错误: %v",
	DriftStopped:       "价格波动已停止",

	// Ledger
	MigrationsApplied: "数据库迁移已执行",
	DatabaseCleared:   "所有账本表已清空",
	ClearFailed:       "清空数据库失败: %v",

	// Instruments
	SeedLoadFailed: "加载种子文件 %s 失败: %v",
	SeedInstrument: "已添加币种 %s (买入价 %d, 卖出价 %d)",
	SeedSkipped:    "币种 %s 已存在, 跳过",
	SeedFailed:     "添加币种 %s 失败: %v",
	SeedComplete:   "种子导入完成: 新增 %d, 跳过 %d",
}

func init() {
	messages = &messagesEN
}

// SetLanguage sets the current language
func SetLanguage(lang Language) {
	mu.Lock()
	defer mu.Unlock()

	switch lang {
	case LangZH:
		messages = &messagesZH
	default:
		messages = &messagesEN
	}
}

// Get returns specific message by key dynamically using reflection
func Get(key string) string {
	mu.RLock()
	msg := messages
	mu.RUnlock()
	v := reflect.ValueOf(msg).Elem()
	f := v.FieldByName(key)
	if f.IsValid() && f.Kind() == reflect.String {
		return f.String()
	}
	return key
}
