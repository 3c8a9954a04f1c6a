// Package api serves the devrelay HTTP surface.
//
// # Routes
//
//	GET  /healthz                          liveness
//	GET  /metrics                          Prometheus exposition
//	GET  /api/connections                  live device ids and session counts
//	GET  /api/tenants                      all tenants
//	GET  /api/devices?tenantId=N           devices of a tenant
//	GET  /api/devices?userId=N             devices assigned to a user
//	GET  /api/devices/{id}                 one device by store id
//	POST /api/enrollment/token             issue a 24h enrollment token
//	GET  /api/enrollment/validate/{token}  check a token before enrolling
//	POST /api/enrollment/enroll            enroll a device with a token
//
// The WebSocket upgrade endpoint is mounted at the configured path and is
// served by the handler passed in Options.WS.
//
// Every error response is a JSON object with a single "message" field.
package api
