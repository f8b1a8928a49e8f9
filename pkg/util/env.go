package util

import (
	"bufio"
	"os"
	"strings"
	"time"

	"github.com/spf13/cast"
)

// GetEnv 读取环境变量
func GetEnv(key string) string {
	return strings.TrimSpace(os.Getenv(key))
}

// GetEnvOr 读取环境变量，为空时返回默认值
func GetEnvOr(key, def string) string {
	if v := GetEnv(key); v != "" {
		return v
	}
	return def
}

func GetIntEnv(key string) int64 {
	return cast.ToInt64(GetEnv(key))
}

// GetIntEnvOr 未设置或非正数时返回默认值
func GetIntEnvOr(key string, def int64) int64 {
	if v := GetIntEnv(key); v > 0 {
		return v
	}
	return def
}

func GetBoolEnv(key string) bool {
	return cast.ToBool(GetEnv(key))
}

func GetFloatEnvOr(key string, def float64) float64 {
	if v := cast.ToFloat64(GetEnv(key)); v > 0 {
		return v
	}
	return def
}

// GetDurationEnvOr 支持 "15m" 形式，纯数字按纳秒处理
func GetDurationEnvOr(key string, def time.Duration) time.Duration {
	raw := GetEnv(key)
	if raw == "" {
		return def
	}
	d, err := cast.ToDurationE(raw)
	if err != nil || d <= 0 {
		return def
	}
	return d
}

// GetListEnv 逗号分隔的列表
func GetListEnv(key string) []string {
	raw := GetEnv(key)
	if raw == "" {
		return nil
	}
	var out []string
	for _, part := range strings.Split(raw, ",") {
		if p := strings.TrimSpace(part); p != "" {
			out = append(out, p)
		}
	}
	return out
}

// LoadEnv 依次加载 .env 与 .env.<env>，已存在的环境变量不会被覆盖
func LoadEnv(env string) error {
	var firstErr error
	for _, name := range []string{".env", ".env." + env} {
		if err := loadEnvFile(name); err != nil && !os.IsNotExist(err) && firstErr == nil {
			firstErr = err
		}
	}
	return firstErr
}

func loadEnvFile(name string) error {
	f, err := os.Open(name)
	if err != nil {
		return err
	}
	defer f.Close()

	scanner := bufio.NewScanner(f)
	for scanner.Scan() {
		line := strings.TrimSpace(scanner.Text())
		if line == "" || strings.HasPrefix(line, "#") {
			continue
		}
		line = strings.TrimPrefix(line, "export ")
		key, value, ok := strings.Cut(line, "=")
		if !ok {
			continue
		}
		key = strings.TrimSpace(key)
		value = strings.Trim(strings.TrimSpace(value), `"'`)
		if _, exists := os.LookupEnv(key); exists {
			continue
		}
		_ = os.Setenv(key, value)
	}
	return scanner.Err()
}
