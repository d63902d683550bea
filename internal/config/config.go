// Package config предоставляет структуры и функцию для парсинга и загрузки конфига
package config

import (
	"log"
	"os"
	"time"

	"github.com/ilyakaznacheev/cleanenv"

	"github.com/germannm/diet-premium/internal/models"
)

// Config общая структура для хранения настроек
type Config struct {
	Env                     string `yaml:"env" env-default:"local"`
	StorageConnectionString string `yaml:"storage_connection_string" env:"DATABASE_URL"`
	MigrationsPath          string `yaml:"migrations_path" env-default:"./migrations"`
	InternalToken           string `yaml:"internal_token" env:"INTERNAL_TOKEN"`
	RedisConnection         `yaml:"redis_connection"`
	RabbitMQ                `yaml:"rabbitmq"`
	HTTPServer              `yaml:"http_server"`
	YooKassa                `yaml:"yookassa"`
	Tariffs                 `yaml:"tariffs"`
}

// HTTPServer структура для настройки сервера
type HTTPServer struct {
	AddressHTTP string        `yaml:"addresshttp" env-default:":8080"`
	TimeoutHTTP time.Duration `yaml:"timeouthttp" env-default:"10s"`
	IdleTimeout time.Duration `yaml:"idle_timeout" env-default:"60s"`
}

// RedisConnection структура для настройки подключения к redis
type RedisConnection struct {
	AddressRedis string        `yaml:"addressredis"`
	Password     string        `yaml:"password"`
	User         string        `yaml:"user"`
	DB           int           `yaml:"db"`
	MaxRetries   int           `yaml:"max_retries"`
	DialTimeout  time.Duration `yaml:"dial_timeout"`
	TimeoutRedis time.Duration `yaml:"timeoutredis"`
}

// RabbitMQ структура для настройки подключения к брокеру событий.
// Пустой URL отключает публикацию событий активации.
type RabbitMQ struct {
	URL            string        `yaml:"url" env:"RABBITMQ_URL"`
	ConnectRetries int           `yaml:"connect_retries" env-default:"5"`
	ConnectDelay   time.Duration `yaml:"connect_delay" env-default:"2s"`
}

// YooKassa структура с учётными данными магазина в ЮKassa.
// Пустой ShopID отключает обращения к API провайдера: платежи
// регистрируются локально, уведомления проверяются только подписью.
type YooKassa struct {
	ShopID        string `yaml:"shop_id" env:"YOOKASSA_SHOP_ID"`
	SecretKey     string `yaml:"secret_key" env:"YOOKASSA_SECRET_KEY"`
	WebhookSecret string `yaml:"webhook_secret" env:"YOOKASSA_WEBHOOK_SECRET"`
	ReturnURL     string `yaml:"return_url" env-default:"https://t.me/tvoy_diet_bot"`
}

// Tariffs статическая тарифная таблица платных возможностей.
type Tariffs struct {
	DietConsultant models.Tariff `yaml:"diet_consultant"`
	MenuGenerator  models.Tariff `yaml:"menu_generator"`
}

// Map возвращает тарифы в виде отображения возможность -> тариф.
func (t Tariffs) Map() map[models.Feature]models.Tariff {
	return map[models.Feature]models.Tariff{
		models.FeatureDietConsultant: t.DietConsultant,
		models.FeatureMenuGenerator:  t.MenuGenerator,
	}
}

// MustLoad функция для загрузки конфига, путь берётся из CONFIG_PATH
func MustLoad() *Config {
	configPath := os.Getenv("CONFIG_PATH")
	if configPath == "" {
		log.Fatal("CONFIG_PATH is not set")
	}
	if _, err := os.Stat(configPath); os.IsNotExist(err) {
		log.Fatalf("file: %s - does not exist", configPath)
	}
	var cfg Config

	if err := cleanenv.ReadConfig(configPath, &cfg); err != nil {
		log.Fatalf("cannot read config: %s", err)
	}
	cfg.applyTariffDefaults()
	return &cfg
}

// applyTariffDefaults заполняет незаданные тарифы значениями по умолчанию:
// 200 RUB за 7 дней для обеих возможностей.
func (c *Config) applyTariffDefaults() {
	if c.Tariffs.DietConsultant.Price == 0 {
		c.Tariffs.DietConsultant = models.Tariff{
			Price:       200,
			Currency:    "RUB",
			TermDays:    7,
			Title:       "Личный диетолог",
			Description: "Персональные консультации диетолога на 7 дней",
		}
	}
	if c.Tariffs.MenuGenerator.Price == 0 {
		c.Tariffs.MenuGenerator = models.Tariff{
			Price:       200,
			Currency:    "RUB",
			TermDays:    7,
			Title:       "Генерация меню",
			Description: "Персональное меню на 7 дней",
		}
	}
}
