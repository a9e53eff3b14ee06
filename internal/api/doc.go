// Package api hosts the admin HTTP server for operators. Notable routes:
//   - GET /healthz for liveness probes.
//   - GET /metrics for Prometheus scraping.
//   - GET /api/status and /api/tokens for pool inspection.
//   - POST/GET/DELETE /api/token for the primary fallback slot.
//   - POST /api/login and GET /api/qrcode to drive a QR login.
package api
