package handlers

import (
	"net/http"
)

type object = map[string]interface{}

func queryParam(name, description, typ string) object {
	schema := object{"type": typ}
	if typ == "date" {
		schema = object{"type": "string", "format": "date"}
	}
	return object{
		"name":        name,
		"in":          "query",
		"description": description,
		"required":    false,
		"schema":      schema,
	}
}

func pathParam(name, description string) object {
	return object{
		"name":        name,
		"in":          "path",
		"description": description,
		"required":    true,
		"schema":      object{"type": "string"},
	}
}

func pageParams() []object {
	return []object{
		{"name": "page", "in": "query", "description": "Page number (default: 1)", "required": false, "schema": object{"type": "integer", "default": 1}},
		{"name": "limit", "in": "query", "description": "Records per page (default: 100, max: 1000)", "required": false, "schema": object{"type": "integer", "default": 100}},
	}
}

func jsonContent(ref string) object {
	return object{"application/json": object{"schema": object{"$ref": "#/components/schemas/" + ref}}}
}

func jsonResponse(description, ref string) object {
	return object{"description": description, "content": jsonContent(ref)}
}

func errorResponses(codes ...string) object {
	descriptions := map[string]string{
		"400": "Invalid input",
		"404": "Not found",
		"429": "Rate limit exceeded",
		"500": "Computation error",
		"501": "Persistence is not configured",
		"503": "External data unavailable",
	}
	out := object{}
	for _, code := range codes {
		out[code] = jsonResponse(descriptions[code], "Error")
	}
	return out
}

func responses(ok string, okResponse object, errs object) object {
	errs[ok] = okResponse
	return errs
}

func paginatedSchema(item string) object {
	return object{
		"type": "object",
		"properties": object{
			"data":        object{"type": "array", "items": object{"$ref": "#/components/schemas/" + item}},
			"total":       object{"type": "integer"},
			"page":        object{"type": "integer"},
			"limit":       object{"type": "integer"},
			"total_pages": object{"type": "integer"},
		},
	}
}

func openAPIDocument() object {
	number := object{"type": "number"}
	nullableNumber := object{"type": "number", "nullable": true}
	integer := object{"type": "integer"}
	str := object{"type": "string"}
	dateTime := object{"type": "string", "format": "date-time"}
	ref := func(name string) object { return object{"$ref": "#/components/schemas/" + name} }
	monthly := object{"type": "array", "items": ref("MonthlyValue")}

	schemas := object{
		"Error": object{
			"type": "object",
			"properties": object{
				"error":   str,
				"kind":    object{"type": "string", "enum": []string{"invalid_input", "data_unavailable", "computation_error", "not_found", "rate_limited", "persistence_disabled"}},
				"field":   str,
				"message": str,
				"code":    integer,
			},
		},
		"MonthlyValue": object{
			"type":       "object",
			"properties": object{"month": integer, "value": number},
		},
		"FinancingProposal": object{
			"type":     "object",
			"required": []string{"requested_amount", "term_months"},
			"properties": object{
				"modality":         object{"type": "string", "enum": []string{"revolving_credit", "lease", "energy_as_a_service"}},
				"requested_amount": number,
				"down_payment":     number,
				"term_months":      integer,
				"system":           object{"type": "string", "enum": []string{"price", "sac"}},
				"annual_rate":      nullableNumber,
				"rate_basis":       object{"type": "string", "enum": []string{"nominal", "effective"}},
			},
		},
		"SimulationInput": object{
			"type":     "object",
			"required": []string{"location", "design", "tariff"},
			"properties": object{
				"quote_id": str,
				"location": object{"type": "object", "properties": object{"latitude": number, "longitude": number}},
				"consumption_history_kwh": object{
					"type": "array", "items": number, "minItems": 12, "maxItems": 12,
					"description": "Monthly kWh in calendar order, January first",
				},
				"annual_consumption_kwh": nullableNumber,
				"design": object{"type": "object", "properties": object{
					"tilt_degrees":        number,
					"azimuth_degrees":     number,
					"system_loss_percent": number,
					"system_size_kwp":     nullableNumber,
				}},
				"tariff":             object{"type": "object", "properties": object{"distributor": str, "class": str}},
				"climate_period":     object{"type": "object", "properties": object{"start": dateTime, "end": dateTime}},
				"capex":              nullableNumber,
				"financing":          ref("FinancingProposal"),
				"oversizing_factors": object{"type": "array", "items": number},
			},
		},
		"ScenarioResult": object{
			"type": "object",
			"properties": object{
				"factor":                 number,
				"system_size_kwp":        number,
				"module_count":           integer,
				"annual_yield_kwh":       number,
				"annual_savings":         number,
				"capex":                  number,
				"payback_months":         object{"type": "integer", "nullable": true},
				"payback_years":          nullableNumber,
				"annualized_roi_percent": number,
				"lifetime_savings":       number,
				"total_outflow":          number,
			},
		},
		"SimulationResult": object{
			"type": "object",
			"properties": object{
				"system_size_kwp":            number,
				"module_count":               integer,
				"inverter_count":             integer,
				"monthly_yield_kwh":          monthly,
				"annual_yield_kwh":           number,
				"specific_yield_kwh_per_kwp": number,
				"monthly_savings":            monthly,
				"annual_savings":             number,
				"savings_percent":            number,
				"capex":                      number,
				"financing":                  ref("AmortizationSchedule"),
				"payback_months":             object{"type": "integer", "nullable": true},
				"annualized_roi_percent":     number,
				"alerts":                     object{"type": "array", "items": object{"type": "object", "properties": object{"code": str, "message": str}}},
				"assumptions":                object{"type": "array", "items": object{"type": "object", "properties": object{"code": str, "description": str}}},
				"scenarios":                  object{"type": "array", "items": ref("ScenarioResult")},
			},
		},
		"SimulationRecord": object{
			"type": "object",
			"properties": object{
				"id":         object{"type": "string", "format": "uuid"},
				"quote_id":   str,
				"input":      ref("SimulationInput"),
				"result":     ref("SimulationResult"),
				"created_at": dateTime,
			},
		},
		"Installment": object{
			"type": "object",
			"properties": object{
				"period":          integer,
				"opening_balance": str,
				"interest":        str,
				"principal":       str,
				"payment":         str,
				"closing_balance": str,
			},
		},
		"AmortizationSchedule": object{
			"type": "object",
			"properties": object{
				"system":          str,
				"financed_amount": str,
				"annual_rate":     number,
				"rate_basis":      str,
				"monthly_rate":    str,
				"installments":    object{"type": "array", "items": ref("Installment")},
				"total_interest":  str,
				"total_principal": str,
				"total_paid":      str,
			},
		},
		"TariffRate": object{
			"type": "object",
			"properties": object{
				"distributor":         str,
				"class":               str,
				"energy_charge":       nullableNumber,
				"distribution_charge": nullableNumber,
				"source_url":          str,
				"as_of":               dateTime,
			},
		},
		"QuoteOverview": object{
			"type": "object",
			"properties": object{
				"summary": object{"type": "object", "properties": object{
					"quote_id":             str,
					"simulation_count":     integer,
					"best_payback_months":  object{"type": "integer", "nullable": true},
					"best_roi_percent":     nullableNumber,
					"avg_annual_savings":   nullableNumber,
					"latest_simulation_at": dateTime,
				}},
				"best": ref("SimulationRecord"),
			},
		},
	}

	paths := object{
		"/api/simulations": object{
			"post": object{
				"summary":     "Run a simulation",
				"description": "Estimates production, savings, financing and payback for one site and stores the result",
				"requestBody": object{"required": true, "content": jsonContent("SimulationInput")},
				"responses":   responses("201", jsonResponse("Simulation stored", "SimulationRecord"), errorResponses("400", "429", "500", "503")),
			},
			"get": object{
				"summary":    "List simulations",
				"parameters": append([]object{queryParam("quote_id", "Filter by quote", "string"), queryParam("since", "Created on or after (YYYY-MM-DD)", "date")}, pageParams()...),
				"responses": responses("200", object{
					"description": "Successful response",
					"content":     object{"application/json": object{"schema": paginatedSchema("SimulationRecord")}},
				}, errorResponses("400", "501")),
			},
		},
		"/api/simulations/{id}": object{
			"get": object{
				"summary":    "Get a stored simulation",
				"parameters": []object{pathParam("id", "Simulation UUID")},
				"responses":  responses("200", jsonResponse("Successful response", "SimulationRecord"), errorResponses("400", "404", "501")),
			},
		},
		"/api/financing/schedules": object{
			"post": object{
				"summary":     "Generate an amortization schedule",
				"description": "Builds a PRICE or SAC schedule for a financing proposal",
				"requestBody": object{"required": true, "content": jsonContent("FinancingProposal")},
				"responses": responses("200", object{
					"description": "Successful response",
					"content": object{"application/json": object{"schema": object{
						"type": "object",
						"properties": object{
							"schedule":    ref("AmortizationSchedule"),
							"assumptions": object{"type": "array", "items": object{"type": "object"}},
						},
					}}},
				}, errorResponses("400", "500")),
			},
		},
		"/api/tariffs": object{
			"get": object{
				"summary": "List ingested tariffs",
				"parameters": append([]object{
					queryParam("distributor", "Filter by distributor", "string"),
					queryParam("class", "Filter by customer class", "string"),
					queryParam("as_of", "Tariffs in force on (YYYY-MM-DD)", "date"),
				}, pageParams()...),
				"responses": responses("200", object{
					"description": "Successful response",
					"content":     object{"application/json": object{"schema": paginatedSchema("TariffRate")}},
				}, errorResponses("400", "501")),
			},
		},
		"/api/quotes/{id}/summary": object{
			"get": object{
				"summary":    "Summarize the simulations of a quote",
				"parameters": []object{pathParam("id", "Quote identifier")},
				"responses":  responses("200", jsonResponse("Successful response", "QuoteOverview"), errorResponses("400", "404", "501")),
			},
		},
		"/health": object{
			"get": object{
				"summary": "Health check",
				"responses": object{
					"200": object{"description": "API is healthy"},
					"503": object{"description": "Database unreachable"},
				},
			},
		},
		"/metrics": object{
			"get": object{
				"summary": "Prometheus metrics",
				"responses": object{
					"200": object{
						"description": "Prometheus metrics in text format",
						"content":     object{"text/plain": object{"schema": str}},
					},
				},
			},
		},
	}

	return object{
		"openapi": "3.0.0",
		"info": object{
			"title":       "Solar Platform API",
			"description": "Solar PV production, savings and financing simulation",
			"version":     "1.0.0",
		},
		"servers":    []map[string]string{{"url": "http://localhost:8080", "description": "Local development server"}},
		"paths":      paths,
		"components": object{"schemas": schemas},
	}
}

// OpenAPISpec returns the OpenAPI 3.0 document of the API
func OpenAPISpec(w http.ResponseWriter, r *http.Request) {
	sendJSON(w, openAPIDocument(), http.StatusOK)
}
