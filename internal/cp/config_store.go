package cp

import (
	"sort"
	"strconv"
	"sync"

	"github.com/evsim-code/ocpp-simulator/internal/ocpp"
)

// 标准配置键
const (
	KeyHeartbeatInterval          = "HeartbeatInterval"
	KeyMeterValueSampleInterval   = "MeterValueSampleInterval"
	KeyNumberOfConnectors         = "NumberOfConnectors"
	KeyAuthorizeRemoteTxRequests  = "AuthorizeRemoteTxRequests"
	KeyConnectionTimeOut          = "ConnectionTimeOut"
	KeyChargeProfileMaxStackLevel = "ChargeProfileMaxStackLevel"
)

type configEntry struct {
	value    string
	readonly bool
	// onChange 校验并应用新值；返回 false 表示取值被拒绝
	onChange func(value string) bool
}

// ConfigStore 单桩的 GetConfiguration/ChangeConfiguration 键值存储
type ConfigStore struct {
	mu      sync.Mutex
	entries map[string]*configEntry
}

// NewConfigStore 创建空存储
func NewConfigStore() *ConfigStore {
	return &ConfigStore{entries: make(map[string]*configEntry)}
}

// Register 登记配置键。onChange 为 nil 的可写键接受任意值。
func (cs *ConfigStore) Register(key, value string, readonly bool, onChange func(string) bool) {
	cs.mu.Lock()
	defer cs.mu.Unlock()
	cs.entries[key] = &configEntry{value: value, readonly: readonly, onChange: onChange}
}

// Get 查询配置。keys 为空返回全部；未知键收进 unknown。
func (cs *ConfigStore) Get(keys []string) (known []ocpp.KeyValue, unknown []string) {
	cs.mu.Lock()
	defer cs.mu.Unlock()
	if len(keys) == 0 {
		keys = make([]string, 0, len(cs.entries))
		for k := range cs.entries {
			keys = append(keys, k)
		}
		sort.Strings(keys)
	}
	for _, k := range keys {
		e, ok := cs.entries[k]
		if !ok {
			unknown = append(unknown, k)
			continue
		}
		v := e.value
		known = append(known, ocpp.KeyValue{Key: k, Readonly: e.readonly, Value: &v})
	}
	return known, unknown
}

// Set 修改配置，返回 ChangeConfiguration 应答状态
func (cs *ConfigStore) Set(key, value string) ocpp.ConfigurationStatus {
	cs.mu.Lock()
	e, ok := cs.entries[key]
	cs.mu.Unlock()
	if !ok {
		return ocpp.ConfigurationNotSupported
	}
	if e.readonly {
		return ocpp.ConfigurationRejected
	}
	if e.onChange != nil && !e.onChange(value) {
		return ocpp.ConfigurationRejected
	}
	cs.mu.Lock()
	e.value = value
	cs.mu.Unlock()
	return ocpp.ConfigurationAccepted
}

// IntValue 读取整型配置，缺失或非数字返回 fallback
func (cs *ConfigStore) IntValue(key string, fallback int) int {
	cs.mu.Lock()
	defer cs.mu.Unlock()
	e, ok := cs.entries[key]
	if !ok {
		return fallback
	}
	n, err := strconv.Atoi(e.value)
	if err != nil {
		return fallback
	}
	return n
}

// BoolValue 读取布尔配置
func (cs *ConfigStore) BoolValue(key string, fallback bool) bool {
	cs.mu.Lock()
	defer cs.mu.Unlock()
	e, ok := cs.entries[key]
	if !ok {
		return fallback
	}
	b, err := strconv.ParseBool(e.value)
	if err != nil {
		return fallback
	}
	return b
}
