package openapi

import (
	"net/http"
	"sort"
	"strconv"

	"github.com/getkin/kin-openapi/openapi3"

	"github.com/faucetdb/licensor/internal/license"
)

// Version is the API version reported in the document.
const Version = "1.0.0"

// endpoint describes one REST route of the license API.
type endpoint struct {
	method   string
	path     string
	op       license.Operation
	summary  string
	request  string // component schema name, empty for no body
	response string
	params   openapi3.Parameters
	public   bool
	outcomes []license.Status
}

// GenerateSpec builds the OpenAPI 3.1 document for the license API.
func GenerateSpec(baseURL string) *openapi3.T {
	doc := &openapi3.T{
		OpenAPI: "3.1.0",
		Info: &openapi3.Info{
			Title:       "Licensor API",
			Description: "License activation and synchronization. Every license operation answers with its response object; the status field carries the outcome.",
			Version:     Version,
		},
		Servers: openapi3.Servers{
			{URL: baseURL},
		},
	}

	components := openapi3.NewComponents()
	components.Schemas = componentSchemas()
	components.SecuritySchemes = openapi3.SecuritySchemes{
		"apiKey": &openapi3.SecuritySchemeRef{
			Value: &openapi3.SecurityScheme{
				Type: "apiKey",
				In:   "header",
				Name: "X-API-Key",
			},
		},
		"bearerAuth": &openapi3.SecuritySchemeRef{
			Value: &openapi3.SecurityScheme{
				Type:         "http",
				Scheme:       "bearer",
				BearerFormat: "JWT",
			},
		},
	}
	doc.Components = &components

	doc.Security = openapi3.SecurityRequirements{
		{"apiKey": {}},
		{"bearerAuth": {}},
	}

	doc.Paths = openapi3.NewPaths()
	for _, ep := range endpoints() {
		addEndpoint(doc, ep)
	}
	return doc
}

func endpoints() []endpoint {
	keyParam := openapi3.Parameters{
		&openapi3.ParameterRef{
			Value: openapi3.NewPathParameter("key").
				WithDescription("License key.").
				WithSchema(openapi3.NewStringSchema()),
		},
	}
	limitParam := &openapi3.ParameterRef{
		Value: openapi3.NewQueryParameter("limit").
			WithDescription("Maximum number of records to return.").
			WithSchema(&openapi3.Schema{Type: &openapi3.Types{"integer"}, Format: "int32"}),
	}
	offsetParam := &openapi3.ParameterRef{
		Value: openapi3.NewQueryParameter("offset").
			WithDescription("Number of records to skip before returning results.").
			WithSchema(&openapi3.Schema{Type: &openapi3.Types{"integer"}, Format: "int32"}),
	}

	lookup := []license.Status{license.StatusOK, license.StatusInvalidKey, license.StatusForbidden, license.StatusError}

	return []endpoint{
		{
			method: http.MethodPost, path: "/api/v1/license/activate", op: license.OpActivate,
			summary: "Bind a license to a device", request: "ActivateRequest", response: "ActivateResponse", public: true,
			outcomes: []license.Status{license.StatusOK, license.StatusInvalidKey, license.StatusRevoked,
				license.StatusExpired, license.StatusHWMismatch, license.StatusInvalidRequest, license.StatusError},
		},
		{
			method: http.MethodPost, path: "/api/v1/license/sync", op: license.OpSync,
			summary: "Compare a cached revision with the server", request: "SyncRequest", response: "SyncResponse", public: true,
			outcomes: []license.Status{license.StatusNoChange, license.StatusUpdate, license.StatusRevoked,
				license.StatusInvalidKey, license.StatusHWMismatch, license.StatusInvalidRequest, license.StatusError},
		},
		{
			method: http.MethodPost, path: "/api/v1/license/renew", op: license.OpRenew,
			summary: "Extend a license", request: "RenewRequest", response: "RenewResponse",
			outcomes: []license.Status{license.StatusOK, license.StatusInvalidKey, license.StatusRevoked,
				license.StatusInvalidRequest, license.StatusForbidden, license.StatusError},
		},
		{
			method: http.MethodPost, path: "/api/v1/license/upgrade", op: license.OpUpgrade,
			summary: "Change a license edition", request: "UpgradeRequest", response: "UpgradeResponse",
			outcomes: []license.Status{license.StatusOK, license.StatusInvalidKey, license.StatusRevoked,
				license.StatusInvalidEdition, license.StatusInvalidRequest, license.StatusForbidden, license.StatusError},
		},
		{
			method: http.MethodGet, path: "/api/v1/system/license", op: license.OpList,
			summary: "List licenses", response: "ListResponse",
			params:   openapi3.Parameters{limitParam, offsetParam},
			outcomes: []license.Status{license.StatusOK, license.StatusInvalidRequest, license.StatusForbidden, license.StatusError},
		},
		{
			method: http.MethodPost, path: "/api/v1/system/license", op: license.OpCreate,
			summary: "Create a license", request: "CreateRequest", response: "CreateResponse",
			outcomes: []license.Status{license.StatusOK, license.StatusDuplicateKey, license.StatusInvalidEdition,
				license.StatusInvalidRequest, license.StatusForbidden, license.StatusError},
		},
		{
			method: http.MethodPost, path: "/api/v1/system/license/bulk", op: license.OpBulkGenerate,
			summary: "Generate a batch of licenses", request: "BulkGenerateRequest", response: "BulkGenerateResponse",
			outcomes: []license.Status{license.StatusOK, license.StatusInvalidEdition, license.StatusInvalidRequest,
				license.StatusForbidden, license.StatusError},
		},
		{
			method: http.MethodPost, path: "/api/v1/system/license/revoke", op: license.OpRevoke,
			summary: "Revoke a license", request: "RevokeRequest", response: "RevokeResponse",
			outcomes: []license.Status{license.StatusOK, license.StatusInvalidKey, license.StatusInvalidRequest,
				license.StatusForbidden, license.StatusError},
		},
		{
			method: http.MethodGet, path: "/api/v1/system/license/statistics", op: license.OpStatistics,
			summary: "Aggregate license statistics", response: "StatisticsResponse",
			outcomes: []license.Status{license.StatusOK, license.StatusForbidden, license.StatusError},
		},
		{
			method: http.MethodGet, path: "/api/v1/system/license/{key}", op: license.OpGet,
			summary: "Get one license", response: "GetResponse", params: keyParam, outcomes: lookup,
		},
		{
			method: http.MethodGet, path: "/api/v1/system/license/{key}/usage", op: license.OpHistory,
			summary: "Usage log of one license", response: "HistoryResponse",
			params: append(keyParam, limitParam), outcomes: lookup,
		},
	}
}

func addEndpoint(doc *openapi3.T, ep endpoint) {
	op := &openapi3.Operation{
		Tags:        []string{"license"},
		Summary:     ep.summary,
		OperationID: string(ep.op),
		Parameters:  ep.params,
		Responses:   outcomeResponses(ep.op, ep.response, ep.outcomes, !ep.public),
	}
	if ep.public {
		op.Security = &openapi3.SecurityRequirements{}
	}
	if ep.request != "" {
		op.RequestBody = &openapi3.RequestBodyRef{
			Value: &openapi3.RequestBody{
				Required: true,
				Content:  openapi3.NewContentWithJSONSchemaRef(ref(ep.request)),
			},
		}
	}

	item := doc.Paths.Value(ep.path)
	if item == nil {
		item = &openapi3.PathItem{}
		doc.Paths.Set(ep.path, item)
	}
	item.SetOperation(ep.method, op)
}

// outcomeResponses documents one HTTP code per distinct mapping of the
// operation's possible outcomes. Authenticated routes also answer 401 with
// the error envelope.
func outcomeResponses(op license.Operation, schema string, outcomes []license.Status, authenticated bool) *openapi3.Responses {
	byCode := map[int][]string{}
	for _, s := range outcomes {
		code := license.HTTPStatus(op, s)
		byCode[code] = append(byCode[code], string(s))
	}
	codes := make([]int, 0, len(byCode))
	for c := range byCode {
		codes = append(codes, c)
	}
	sort.Ints(codes)

	responses := openapi3.NewResponses()
	for _, c := range codes {
		desc := "status: "
		for i, s := range byCode[c] {
			if i > 0 {
				desc += ", "
			}
			desc += s
		}
		responses.Set(strconv.Itoa(c), &openapi3.ResponseRef{
			Value: &openapi3.Response{
				Description: &desc,
				Content:     openapi3.NewContentWithJSONSchemaRef(ref(schema)),
			},
		})
	}
	if authenticated {
		unauthDesc := "Unauthorized"
		responses.Set("401", &openapi3.ResponseRef{
			Value: &openapi3.Response{
				Description: &unauthDesc,
				Content:     openapi3.NewContentWithJSONSchemaRef(ref("ErrorResponse")),
			},
		})
	}
	return responses
}

func componentSchemas() openapi3.Schemas {
	status := ref("Status")
	message := stringSchema("Human-readable detail for validation failures.")
	revision := intSchema("int64", "Server revision of the license record.", ptr(1))
	edition := ref("Edition")
	licenseStatus := ref("LicenseStatus")

	return openapi3.Schemas{
		"Status":        enumSchema("Outcome of the operation.", statusValues()...),
		"Edition":       enumSchema("License edition.", editionValues()...),
		"LicenseStatus": enumSchema("Derived license status.", licenseStatusValues()...),

		"ErrorResponse": objectSchema(openapi3.Schemas{
			"error": objectSchema(openapi3.Schemas{
				"code":    intSchema("int32", "", nil),
				"message": stringSchema(""),
				"context": objectSchema(nil),
			}),
		}),

		"ActivateRequest": objectSchema(openapi3.Schemas{
			"license_key": stringSchema("License key."),
			"hwid":        stringSchema("Hardware fingerprint of the device."),
		}, "license_key", "hwid"),
		"ActivateResponse": objectSchema(openapi3.Schemas{
			"status":          status,
			"message":         message,
			"expiry":          dateSchema("Expiry date (UTC)."),
			"edition":         edition,
			"server_revision": revision,
			"license_status":  licenseStatus,
		}, "status"),

		"SyncRequest": objectSchema(openapi3.Schemas{
			"license_key":    stringSchema("License key."),
			"hwid":           stringSchema("Hardware fingerprint of the device."),
			"local_revision": intSchema("int64", "Revision cached by the client.", ptr(0)),
		}, "license_key", "hwid", "local_revision"),
		"SyncResponse": objectSchema(openapi3.Schemas{
			"status":          status,
			"message":         message,
			"expiry":          dateSchema("Expiry date (UTC)."),
			"edition":         edition,
			"server_revision": revision,
			"license_status":  licenseStatus,
		}, "status"),

		"RenewRequest": objectSchema(openapi3.Schemas{
			"license_key":    stringSchema("License key."),
			"extension_days": intSchema("int32", "Days to add; defaults to 365.", ptr(1)),
		}, "license_key"),
		"RenewResponse": objectSchema(openapi3.Schemas{
			"status":          status,
			"message":         message,
			"new_expiry":      dateSchema("Expiry date after renewal (UTC)."),
			"server_revision": revision,
		}, "status"),

		"UpgradeRequest": objectSchema(openapi3.Schemas{
			"license_key": stringSchema("License key."),
			"new_edition": edition,
		}, "license_key", "new_edition"),
		"UpgradeResponse": objectSchema(openapi3.Schemas{
			"status":          status,
			"message":         message,
			"edition":         edition,
			"server_revision": revision,
		}, "status"),

		"CreateRequest": objectSchema(openapi3.Schemas{
			"license_key": stringSchema("License key; generated when empty."),
			"expiry_days": intSchema("int32", "Validity in days from creation.", ptr(1)),
			"edition":     edition,
			"user_email":  stringSchema("Owner email."),
			"notes":       stringSchema("Free-form notes."),
		}, "expiry_days", "edition"),
		"CreateResponse": objectSchema(openapi3.Schemas{
			"status":  status,
			"message": message,
			"license": ref("LicenseSummary"),
		}, "status"),

		"RevokeRequest": objectSchema(openapi3.Schemas{
			"license_key": stringSchema("License key."),
			"reason":      stringSchema("Why the license was revoked."),
		}, "license_key"),
		"RevokeResponse": objectSchema(openapi3.Schemas{
			"status":  status,
			"message": message,
		}, "status"),

		"BulkGenerateRequest": objectSchema(openapi3.Schemas{
			"count":       intSchema("int32", "Number of licenses to generate.", ptr(1)),
			"expiry_days": intSchema("int32", "Validity in days from creation.", ptr(1)),
			"edition":     edition,
			"key_prefix":  stringSchema("Optional alphanumeric key prefix."),
		}, "count", "expiry_days", "edition"),
		"BulkGenerateResponse": objectSchema(openapi3.Schemas{
			"status":  status,
			"message": message,
			"keys":    arraySchema(stringSchema("")),
		}, "status"),

		"StatisticsResponse": objectSchema(openapi3.Schemas{
			"status":                  status,
			"message":                 message,
			"total":                   intSchema("int32", "", nil),
			"active":                  intSchema("int32", "", nil),
			"expired":                 intSchema("int32", "", nil),
			"revoked":                 intSchema("int32", "", nil),
			"bound":                   intSchema("int32", "", nil),
			"unbound":                 intSchema("int32", "", nil),
			"by_edition":              objectSchema(nil),
			"expiring_within_7_days":  intSchema("int32", "Active licenses expiring within 7 days.", nil),
			"expiring_within_30_days": intSchema("int32", "Active licenses expiring within 30 days.", nil),
			"generated_at":            dateTimeSchema(""),
		}, "status"),

		"LicenseSummary": objectSchema(openapi3.Schemas{
			"license_key":     stringSchema(""),
			"hwid":            stringSchema("Bound hardware fingerprint; absent when unbound."),
			"edition":         edition,
			"expiry_days":     intSchema("int32", "", nil),
			"created_at":      dateSchema(""),
			"expiry":          dateSchema(""),
			"license_status":  licenseStatus,
			"server_revision": revision,
			"last_seen":       dateTimeSchema(""),
			"user_email":      stringSchema(""),
			"notes":           stringSchema(""),
			"revoke_reason":   stringSchema(""),
		}, "license_key", "edition", "license_status", "server_revision"),
		"GetResponse": objectSchema(openapi3.Schemas{
			"status":  status,
			"message": message,
			"license": ref("LicenseSummary"),
		}, "status"),
		"ListResponse": objectSchema(openapi3.Schemas{
			"status":   status,
			"message":  message,
			"licenses": arraySchema(ref("LicenseSummary")),
			"meta": objectSchema(openapi3.Schemas{
				"count":  intSchema("int32", "Records in this page.", nil),
				"total":  intSchema("int32", "Records in the store.", nil),
				"limit":  intSchema("int32", "", nil),
				"offset": intSchema("int32", "", nil),
			}),
		}, "status"),

		"UsageLogEntry": objectSchema(openapi3.Schemas{
			"id":              stringSchema(""),
			"license_key":     stringSchema(""),
			"action":          enumSchema("", actionValues()...),
			"outcome":         status,
			"hwid":            stringSchema(""),
			"edition_before":  edition,
			"edition_after":   edition,
			"expiry_before":   dateSchema(""),
			"expiry_after":    dateSchema(""),
			"revision_before": intSchema("int64", "", nil),
			"revision_after":  intSchema("int64", "", nil),
			"actor": objectSchema(openapi3.Schemas{
				"identity":   stringSchema(""),
				"ip":         stringSchema(""),
				"user_agent": stringSchema(""),
			}),
			"detail":     stringSchema(""),
			"created_at": dateTimeSchema(""),
		}),
		"HistoryResponse": objectSchema(openapi3.Schemas{
			"status":  status,
			"message": message,
			"entries": arraySchema(ref("UsageLogEntry")),
		}, "status"),
	}
}
