package internal

import (
	"fmt"
	"os"
	"time"

	"gopkg.in/yaml.v3"
)

// Config 整個應用的配置
//
// 啟動時固定，運行期間不可變。所有遊戲參數（球場尺寸、球速、
// 計分門檻）與資源參數（心跳、節流）都集中在這裡，
// 方便在測試中建立多個獨立的服務器實例。
type Config struct {
	Server struct {
		Port         int           `yaml:"port"`
		ReadTimeout  time.Duration `yaml:"read_timeout"`
		WriteTimeout time.Duration `yaml:"write_timeout"`
	} `yaml:"server"`

	Game struct {
		Rooms        int     `yaml:"rooms"`         // 固定房間數
		CourtWidth   float64 `yaml:"court_width"`   // 球場寬（x 軸，兩側是牆）
		CourtHeight  float64 `yaml:"court_height"`  // 球場高（y 軸，兩端是球門線）
		BallRadius   float64 `yaml:"ball_radius"`   //
		BaseSpeed    float64 `yaml:"base_speed"`    // 發球速度
		MaxSpeed     float64 `yaml:"max_speed"`     // 速度上限
		PaddleWidth  float64 `yaml:"paddle_width"`  //
		PaddleHeight float64 `yaml:"paddle_height"` //
		WinScore     int     `yaml:"win_score"`     // 獲勝所需分數
		TickRate     int     `yaml:"tick_rate"`     // 每秒物理步數
		SendRate     int     `yaml:"send_rate"`     // 每秒狀態廣播數（必須整除 TickRate）
	} `yaml:"game"`

	Heartbeat struct {
		Interval  time.Duration `yaml:"interval"`   // 心跳探測間隔
		MaxMissed int           `yaml:"max_missed"` // 超過即強制斷開
	} `yaml:"heartbeat"`

	Lobby struct {
		BroadcastInterval time.Duration `yaml:"broadcast_interval"` // 定期快照間隔（事件觸發之外的自癒機制）
	} `yaml:"lobby"`

	Paddle struct {
		Throttle time.Duration `yaml:"throttle"` // 球拍消息的最小間隔
	} `yaml:"paddle"`

	Log struct {
		Level  string `yaml:"level"`
		Format string `yaml:"format"`
	} `yaml:"log"`
}

// DefaultConfig 返回預設配置
func DefaultConfig() *Config {
	cfg := &Config{}

	cfg.Server.Port = 8080
	cfg.Server.ReadTimeout = 15 * time.Second
	cfg.Server.WriteTimeout = 15 * time.Second

	cfg.Game.Rooms = 10
	cfg.Game.CourtWidth = 450
	cfg.Game.CourtHeight = 800
	cfg.Game.BallRadius = 15
	cfg.Game.BaseSpeed = 8
	cfg.Game.MaxSpeed = 12
	cfg.Game.PaddleWidth = 100
	cfg.Game.PaddleHeight = 20
	cfg.Game.WinScore = 5
	cfg.Game.TickRate = 50
	cfg.Game.SendRate = 25

	cfg.Heartbeat.Interval = 10 * time.Second
	cfg.Heartbeat.MaxMissed = 3

	cfg.Lobby.BroadcastInterval = 2 * time.Second

	cfg.Paddle.Throttle = 10 * time.Millisecond

	cfg.Log.Level = "info"
	cfg.Log.Format = "text"

	return cfg
}

// LoadConfig 從 YAML 文件載入配置（疊加在預設值上）
func LoadConfig(path string) (*Config, error) {
	cfg := DefaultConfig()

	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("讀取配置文件失敗: %w", err)
	}

	if err := yaml.Unmarshal(data, cfg); err != nil {
		return nil, fmt.Errorf("解析配置文件失敗: %w", err)
	}

	if err := cfg.Validate(); err != nil {
		return nil, err
	}

	return cfg, nil
}

// Validate 驗證配置
func (c *Config) Validate() error {
	if c.Game.Rooms <= 0 {
		return fmt.Errorf("房間數必須大於 0")
	}
	if c.Game.CourtWidth <= 0 || c.Game.CourtHeight <= 0 {
		return fmt.Errorf("球場尺寸必須大於 0")
	}
	if c.Game.BaseSpeed <= 0 || c.Game.MaxSpeed < c.Game.BaseSpeed {
		return fmt.Errorf("球速配置無效: base=%v max=%v", c.Game.BaseSpeed, c.Game.MaxSpeed)
	}
	if c.Game.TickRate <= 0 || c.Game.SendRate <= 0 {
		return fmt.Errorf("tick_rate 與 send_rate 必須大於 0")
	}
	// 廣播頻率必須是物理頻率的因數，逐 tick 判斷是否到達發送點
	if c.Game.TickRate%c.Game.SendRate != 0 {
		return fmt.Errorf("send_rate (%d) 必須整除 tick_rate (%d)", c.Game.SendRate, c.Game.TickRate)
	}
	if c.Game.WinScore <= 0 {
		return fmt.Errorf("win_score 必須大於 0")
	}
	if c.Heartbeat.Interval <= 0 || c.Heartbeat.MaxMissed <= 0 {
		return fmt.Errorf("心跳配置無效")
	}
	return nil
}

// TickInterval 單個物理步的時長
func (c *Config) TickInterval() time.Duration {
	return time.Second / time.Duration(c.Game.TickRate)
}

// SendEvery 每隔多少個 tick 廣播一次狀態
func (c *Config) SendEvery() int {
	return c.Game.TickRate / c.Game.SendRate
}
