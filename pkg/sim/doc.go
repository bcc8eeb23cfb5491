// Package sim provides implement-side protocol participants for the
// simulator binary, examples and integration tests.
//
// Implement is a generic device: it announces itself, acknowledges task
// commands, applies parameter sets with range checking against its own
// copy of the definition catalog, and answers parameter requests.
// Sprayer and Seeder are presets with realistic catalogs, and
// WeatherStation publishes sensor readings from a small random-walk
// model.
//
// Every simulated device owns its bus node and speaks exclusively
// through the public bus and wire APIs, the same surface an external
// device adapter would use.
package sim
