package consts

const (
	Env            = "EGGIE_ECHO_ENV"             // 运行环境，test 表示单测
	Host           = "EGGIE_ECHO_HOST"            // 监听地址，ipv4/ipv6 字面量
	Port           = "EGGIE_ECHO_PORT"            // 端口
	Backlog        = "EGGIE_ECHO_BACKLOG"         // 全连接队列长度
	Backend        = "EGGIE_ECHO_BACKEND"         // 多路复用实现：select/poll/epoll
	Trigger        = "EGGIE_ECHO_TRIGGER"         // 触发模式：level/edge
	SelectCapacity = "EGGIE_ECHO_SELECT_CAPACITY" // select 位图容量
	ReadQuota      = "EGGIE_ECHO_READ_QUOTA"      // 单次就绪最多读取字节数
	WriteQuota     = "EGGIE_ECHO_WRITE_QUOTA"     // 单次就绪最多写出字节数
	HighWaterMark  = "EGGIE_ECHO_HIGH_WATER_MARK" // 输出缓冲高水位
	LowWaterMark   = "EGGIE_ECHO_LOW_WATER_MARK"  // 输出缓冲低水位
	WaitTimeout    = "EGGIE_ECHO_WAIT_TIMEOUT"    // 单次 wait 最长阻塞时间
	MetricsPushURL = "EGGIE_ECHO_METRICS_PUSH"    // prometheus pushgateway 地址
	ConfigFile     = "EGGIE_ECHO_CONFIG"          // 配置文件路径
)
