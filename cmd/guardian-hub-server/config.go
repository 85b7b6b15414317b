package main

import (
	"encoding/json"
	"fmt"
	"strings"

	"github.com/guardianware/guardian-hub/internal/agents"
	"github.com/guardianware/guardian-hub/internal/api/http"
	"github.com/guardianware/guardian-hub/internal/auth"
	"github.com/guardianware/guardian-hub/internal/db"
	"github.com/guardianware/guardian-hub/internal/plugins"
	"github.com/joho/godotenv"
	"github.com/spf13/viper"
)

type Config struct {
	Log     LogConfig
	Http    http.Config
	Db      db.Config
	Jwt     auth.JWTConfig
	Agents  agents.Config
	Plugins plugins.Config
	Keys    KeyConfig
}

type KeyConfig struct {
	Path string `mapstructure:"path"`
}

var config Config

func InitConfig() {
	var err error

	_ = godotenv.Load()

	viper.SetConfigName("application")
	viper.AddConfigPath(".")
	viper.AddConfigPath("./cmd/guardian-hub-server")
	viper.SetConfigType("yaml")
	viper.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	viper.AutomaticEnv()

	_ = viper.BindEnv("db.url", "DATABASE_URL")
	_ = viper.BindEnv("jwt.secret", "JWT_SECRET")
	_ = viper.BindEnv("http.admin_api_key", "ADMIN_API_KEY")

	if err := viper.ReadInConfig(); err != nil {
		panic(err)
	}

	err = viper.Unmarshal(&config)
	if err != nil {
		panic(err)
	}

	initLogger(config.Log.Level)

	if strings.ToUpper(config.Log.Level) == LOG_LEVEL_DEBUG {
		configJSON, err := json.MarshalIndent(config, "", "  ")
		if err == nil {
			fmt.Println("Config loaded:")
			fmt.Println(string(configJSON))
		}
	}
}
