// Package streamserver provides the diagnostic HTTP surface for chain-dna
// @title chain-dna stream-server API
// @version 1.0
// @description Diagnostic and administration API for the chain-dna filtered data stream server
// @license.name Apache 2.0
// @license.url https://www.apache.org/licenses/LICENSE-2.0.html
// @host localhost:7171
// @basePath /v1
// @schemes http
package streamserver
