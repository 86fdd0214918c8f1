package config

import "time"

type Config struct {
	Environment Environment
	Log         Log
	HTTP        HTTPServer
	BaseURL     string `env:"BASE_URL" envDefault:"http://localhost:8080"`
	Database    Database
	Pricing     Pricing
	Payment     Payment
	Redis       Redis
	RateLimit   RateLimit
	Seed        Seed

	Paypal    Paypal    `envPrefix:"PAYPAL_"`
	BrainTree Braintree `envPrefix:"BRAINTREE_"`
	SMTP      SMTP      `envPrefix:"SMTP_"`
}

type Paypal struct {
	BaseApiURL   string `env:"BASE_API_URL" envDefault:"https://api-m.sandbox.paypal.com"`
	ClientID     string `env:"CLIENT_ID"`
	ClientSecret string `env:"CLIENT_SECRET"`
	WebhookID    string `env:"WEBHOOK_ID"`
	BrandName    string `env:"BRAND_NAME" envDefault:"Game Shop"`
}

type Braintree struct {
	Environment string `env:"ENVIRONMENT" envDefault:"sandbox"`
	MerchantID  string `env:"MERCHANT_ID"`
	PublicKey   string `env:"PUBLIC_KEY"`
	PrivateKey  string `env:"PRIVATE_KEY"`
}

// SMTP.Timeout bounds one whole mail exchange, dial included.
type SMTP struct {
	Host     string        `env:"HOST" envDefault:"localhost"`
	Port     string        `env:"PORT" envDefault:"1025"`
	Username string        `env:"USERNAME"`
	Password string        `env:"PASSWORD"`
	From     string        `env:"FROM" envDefault:"keys@gameshop.local"`
	Timeout  time.Duration `env:"TIMEOUT" envDefault:"30s"`
}

type Environment struct {
	Name string `env:"ENVIRONMENT" envDefault:"development"`
}

type Log struct {
	Level  string `env:"LOG_LEVEL" envDefault:"info"`
	Format string `env:"LOG_FORMAT" envDefault:"json"`
}

type HTTPServer struct {
	Host string `env:"HTTP_HOST" envDefault:"0.0.0.0"`
	Port string `env:"HTTP_PORT" envDefault:"8080"`
}

type Database struct {
	Driver string `env:"DATABASE_DRIVER" envDefault:"sqlite"` // sqlite, mysql
	URL    string `env:"DATABASE_URL" envDefault:"gameshop.db"`
}

// Pricing rates are fractions of the order subtotal.
type Pricing struct {
	TaxRate        string `env:"TAX_RATE" envDefault:"0.10"`
	ServiceFeeRate string `env:"SERVICE_FEE_RATE" envDefault:"0.05"`
	Currency       string `env:"CURRENCY" envDefault:"USD"`
}

type Payment struct {
	Provider       string        `env:"PAYMENT_PROVIDER" envDefault:"paypal"` // paypal, braintree
	GatewayTimeout time.Duration `env:"PAYMENT_GATEWAY_TIMEOUT" envDefault:"30s"`
	NotifyTimeout  time.Duration `env:"PAYMENT_NOTIFY_TIMEOUT" envDefault:"2m"`
}

// Redis is optional. When Addr is empty confirmations are serialized in-process only.
type Redis struct {
	Addr     string        `env:"REDIS_ADDR"`
	Password string        `env:"REDIS_PASSWORD"`
	LockTTL  time.Duration `env:"REDIS_LOCK_TTL" envDefault:"60s"`
}

type RateLimit struct {
	RPS   float64 `env:"RATE_LIMIT_RPS" envDefault:"20"`
	Burst int     `env:"RATE_LIMIT_BURST" envDefault:"40"`
}

type Seed struct {
	Demo bool `env:"SEED_DEMO" envDefault:"false"`
}
