// Command tokengen mints service tokens for the reservation API.
//
//	tokengen --role GATE --sub gate-12 --ttl 720h
//
// The secret defaults to $JWT_SECRET.
package main

import (
	"fmt"
	"io"
	"os"
	"strings"
	"time"

	"github.com/spf13/pflag"

	"github.com/iliyamo/trip-seat-reservation/internal/utils"
)

var roles = []string{utils.RoleCustomer, utils.RoleOrderService, utils.RoleGate, utils.RoleOperator}

func main() {
	secret := pflag.String("secret", os.Getenv("JWT_SECRET"), "HMAC secret the server verifies with")
	sub := pflag.StringP("sub", "s", "", "token subject: a customer id, gate id or service name")
	role := pflag.StringP("role", "r", utils.RoleCustomer, "one of "+strings.Join(roles, ", "))
	ttl := pflag.Duration("ttl", time.Hour, "token lifetime")
	pflag.Parse()

	if err := mint(os.Stdout, *secret, *sub, strings.ToUpper(*role), *ttl); err != nil {
		fmt.Fprintln(os.Stderr, "tokengen:", err)
		os.Exit(2)
	}
}

func mint(w io.Writer, secret, sub, role string, ttl time.Duration) error {
	switch {
	case secret == "":
		return fmt.Errorf("--secret or JWT_SECRET is required")
	case sub == "":
		return fmt.Errorf("--sub is required")
	case ttl <= 0:
		return fmt.Errorf("--ttl must be positive")
	}
	known := false
	for _, r := range roles {
		known = known || r == role
	}
	if !known {
		return fmt.Errorf("unknown role %q", role)
	}
	tok, err := utils.NewAccessToken(secret, sub, role, ttl)
	if err != nil {
		return err
	}
	fmt.Fprintln(w, tok.Token)
	return nil
}
