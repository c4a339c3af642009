package main

import (
	"fmt"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
)

// ID 生成：前缀 + 毫秒时间戳(base36) + uuid 随机后缀。
// 时间戳部分保证进程内单调不减，后缀保证不会撞车。
// 例如: comp-lxyz12ab-9f86d081

var (
	idMu     sync.Mutex
	idLastMs int64
)

func newID(prefix string) string {
	idMu.Lock()
	ms := time.Now().UnixMilli()
	if ms < idLastMs {
		ms = idLastMs
	}
	idLastMs = ms
	idMu.Unlock()

	suffix := strings.SplitN(uuid.NewString(), "-", 2)[0]
	return fmt.Sprintf("%s-%s-%s", prefix, strconv.FormatInt(ms, 36), suffix)
}
