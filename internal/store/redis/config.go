package redis

import "fmt"

type Config struct {
	Address  string
	Password string
	DB       int
}

func DefaultConfig() *Config {
	return &Config{Address: "localhost:6379"}
}

func (c *Config) Validate() error {
	if c.Address == "" {
		return fmt.Errorf("address is required")
	}
	if c.DB < 0 || c.DB > 15 {
		return fmt.Errorf("db must be between 0 and 15")
	}
	return nil
}
