package postgres

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestConfigValidate(t *testing.T) {
	cfg := &Config{Host: "localhost", Port: 5432, User: "warden", Database: "warden"}
	assert.NoError(t, cfg.Validate())

	assert.Error(t, (&Config{Port: 5432, User: "u", Database: "d"}).Validate())
	assert.Error(t, (&Config{Host: "h", Port: 0, User: "u", Database: "d"}).Validate())
	assert.Error(t, (&Config{Host: "h", Port: 5432, Database: "d"}).Validate())
	assert.Error(t, (&Config{Host: "h", Port: 5432, User: "u"}).Validate())
}

func TestConfigDSN(t *testing.T) {
	cfg := &Config{Host: "db.internal", Port: 5433, User: "warden", Password: "pw", Database: "tokens"}
	assert.Equal(t,
		"host=db.internal port=5433 user=warden password=pw dbname=tokens sslmode=disable",
		cfg.DSN())

	cfg.SSLMode = "require"
	assert.Contains(t, cfg.DSN(), "sslmode=require")
}
