package app

import (
	"fmt"
	"os"

	"github.com/google/uuid"
)

// InstanceID 台架实例标识，写入每条日志便于区分多台工作站
// 优先使用环境变量 XRB_INSTANCE_ID，否则生成 xray-bench-{hostname}-{uuid8}
func InstanceID() string {
	if id := os.Getenv("XRB_INSTANCE_ID"); id != "" {
		return id
	}
	hostname, err := os.Hostname()
	if err != nil {
		hostname = "unknown"
	}
	return fmt.Sprintf("xray-bench-%s-%s", hostname, uuid.NewString()[:8])
}
