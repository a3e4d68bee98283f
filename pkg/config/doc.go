// Package config loads all service configuration from the environment.
//
// Configuration is split into three groups: the HTTP server settings, the
// billing provider credentials (secret key, publishable key, webhook signing
// secret), and observability settings. A .env file in the working directory
// is loaded first when present, matching the deployment convention of the
// sample frontends this service pairs with.
//
// Price lookup keys (human aliases such as "basic" or "premium") resolve to
// provider price ids through a PriceTable, populated from PRICE_* environment
// entries and optionally from a YAML file that can be hot-reloaded.
package config
