// Package login mints new access tokens. The Chromedp provider drives the
// scan-to-login page in a browser; Static hands out operator supplied tokens.
package login
