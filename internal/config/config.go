package config

import (
	"fmt"
	"time"

	"github.com/spf13/viper"
)

type Config struct {
	Server  ServerConfig  `mapstructure:"server"`
	Robot   RobotConfig   `mapstructure:"robot"`
	Vision  VisionConfig  `mapstructure:"vision"`
	Washing WashingConfig `mapstructure:"washing"`
	Storage StorageConfig `mapstructure:"storage"`
}

type ServerConfig struct {
	HTTPPort        int           `mapstructure:"http_port"`
	ShutdownTimeout time.Duration `mapstructure:"shutdown_timeout"`
}

type RobotConfig struct {
	Port         string        `mapstructure:"port"`
	Baudrate     int           `mapstructure:"baudrate"`
	ArmSpeed     int           `mapstructure:"arm_speed"`
	SettleDelay  time.Duration `mapstructure:"settle_delay"`
	ReplyTimeout time.Duration `mapstructure:"reply_timeout"`
}

type VisionConfig struct {
	ConfidenceThreshold        float64       `mapstructure:"confidence_threshold"`
	ProgramConfidenceThreshold float64       `mapstructure:"program_confidence_threshold"`
	RequiredFrames             int           `mapstructure:"required_frames"`
	Cooldown                   time.Duration `mapstructure:"cooldown"`
	MaxWaitFrames              int           `mapstructure:"max_wait_frames"`
	FrameInterval              time.Duration `mapstructure:"frame_interval"`
}

type WashingConfig struct {
	WashDuration  time.Duration `mapstructure:"wash_duration"`
	RinseDuration time.Duration `mapstructure:"rinse_duration"`
	BrushSpeed    int           `mapstructure:"brush_speed"`
	WaterFlow     int           `mapstructure:"water_flow"`
}

type StorageConfig struct {
	DataDir string `mapstructure:"data_dir"`
}

func Load(path string) (*Config, error) {
	viper.SetConfigFile(path)
	viper.SetConfigType("yaml")

	// Defaults setzen
	viper.SetDefault("server.http_port", 8080)
	viper.SetDefault("server.shutdown_timeout", "30s")

	viper.SetDefault("robot.port", "/dev/ttyUSB0")
	viper.SetDefault("robot.baudrate", 115200)
	viper.SetDefault("robot.arm_speed", 300)
	viper.SetDefault("robot.settle_delay", "500ms")
	viper.SetDefault("robot.reply_timeout", "3s")

	viper.SetDefault("vision.confidence_threshold", 0.5)
	viper.SetDefault("vision.program_confidence_threshold", 0.8)
	viper.SetDefault("vision.required_frames", 8)
	viper.SetDefault("vision.cooldown", "500ms")
	viper.SetDefault("vision.max_wait_frames", 200)
	viper.SetDefault("vision.frame_interval", "10ms")

	viper.SetDefault("washing.wash_duration", "3s")
	viper.SetDefault("washing.rinse_duration", "2s")
	viper.SetDefault("washing.brush_speed", 150)
	viper.SetDefault("washing.water_flow", 100)

	viper.SetDefault("storage.data_dir", "data")

	// Environment Variables automatisch binden (Viper Feature)
	viper.AutomaticEnv()
	viper.SetEnvPrefix("CUPWASH")

	if err := viper.ReadInConfig(); err != nil {
		return nil, fmt.Errorf("failed to read config: %w", err)
	}

	var config Config
	if err := viper.Unmarshal(&config); err != nil {
		return nil, fmt.Errorf("failed to unmarshal config: %w", err)
	}

	return &config, nil
}
