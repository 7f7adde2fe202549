package config

// 随机数流编号。每个随机性来源用运行种子加上自己的流编号构造 PCG，
// 同一种子下各来源互不相关。新增来源时必须使用新的编号。
const (
	StreamObstacles uint64 = 0x9e3779b97f4a7c15
	StreamStarts    uint64 = 0xbf58476d1ce4e5b9

	StreamQMIXInit    uint64 = 0x94d049bb133111eb
	StreamQMIXActions uint64 = 0xd6e8feb86659fd93
	StreamQMIXReplay  uint64 = 0xa0761d6478bd642f

	StreamBaselineInit    uint64 = 0xe7037ed1a0b428db
	StreamBaselineActions uint64 = 0x8ebc6af09c88c6e3
	StreamBaselineReplay  uint64 = 0x632be59bd9b4e019
)

// Streams 返回全部流编号，按名称索引。
func Streams() map[string]uint64 {
	return map[string]uint64{
		"obstacles":        StreamObstacles,
		"starts":           StreamStarts,
		"qmix_init":        StreamQMIXInit,
		"qmix_actions":     StreamQMIXActions,
		"qmix_replay":      StreamQMIXReplay,
		"baseline_init":    StreamBaselineInit,
		"baseline_actions": StreamBaselineActions,
		"baseline_replay":  StreamBaselineReplay,
	}
}
