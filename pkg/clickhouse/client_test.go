package clickhouse

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
)

func TestBuildDSN(t *testing.T) {
	dsn := BuildDSN(ClientConfig{
		Host:         "ch",
		Port:         9000,
		Database:     "tradeguard",
		User:         "default",
		Password:     "pw",
		DialTimeout:  5 * time.Second,
		ReadTimeout:  10 * time.Second,
		WriteTimeout: 10 * time.Second,
		AsyncInsert:  true,
		WaitForAsync: true,
	})
	assert.Equal(t, "clickhouse://default:pw@ch:9000/tradeguard?dial_timeout=5s&read_timeout=10s&async_insert=1&wait_for_async_insert=1", dsn)
}

func TestBuildDSNHTTP(t *testing.T) {
	dsn := BuildDSN(ClientConfig{Host: "ch", Port: 8123, Database: "db", User: "u", UseHTTP: true, MaxExecTime: 30 * time.Second})
	assert.Equal(t, "clickhouse+http://u:@ch:8123/db?max_execution_time=30", dsn)
}
