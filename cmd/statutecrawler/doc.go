// Command statutecrawler keeps a pool of banklaw access tokens healthy and
// archives statute documents window by window.
//
// Architecture overview:
//   - Token pool: internal/pool.Manager probes stored tokens in random order,
//     evicts expired or failing ones and mints replacements through a login
//     provider (a Chrome QR login or a static list). The pool lives in Redis
//     so several processes can share it; a primary slot holds a fallback
//     token set by an operator.
//   - Crawl windows: internal/scheduler drives one (category, year) window at
//     a time per worker. Each pass lists targets from month index files,
//     acquires one token, fetches and archives every target, then decides:
//     done when nothing failed, evict the token and back off when more than
//     half failed or nothing succeeded, back off otherwise.
//   - Index: internal/index pages the search API into one file per month and
//     re-reads those files on every pass.
//   - Archive: raw JSON and rendered text per document, on the local
//     filesystem or in a GCS bucket, plus a completion marker per window.
//   - Admin API: internal/api serves pool status, token maintenance, the QR
//     code of a pending login and Prometheus metrics.
//
// Quick checklist:
//   - Configure via --config config.yaml and STATUTE_* env vars (for example
//     STATUTE_REDIS_ADDRESS, STATUTE_LOGIN_PROVIDER, STATUTE_ARCHIVE_DIR).
//   - statutecrawler index --category 1 --year 2024
//   - statutecrawler crawl --category 1 --from 2022 --to 2025
//   - statutecrawler pool status | ensure | probe --evict | clear
//   - statutecrawler serve, then scan the code served at /api/qrcode after
//     POST /api/login.
//
// SIGINT or SIGTERM stops a crawl; it never stops on its own while a window
// still has failures.
package main
