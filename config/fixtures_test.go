package config

import "github.com/jonwraymond/cachegate/auth"

func accountFixture(id, tier string) auth.Account {
	return auth.Account{ID: id, PlanTier: tier, Namespaces: []string{id}}
}
