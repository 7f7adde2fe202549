package environment

import "Swarm-Coverage/config"

// Config 结构体用于封装环境服务器对外暴露的网格参数。
type Config struct {
	Scenario config.Scenario
	Params   config.EnvParams
	Seed     uint64
}
