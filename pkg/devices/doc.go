// Package devices provides reference logical device implementations:
// a relay, a button, and a temperature sensor. They demonstrate the
// hosting contract — declaring attribs, fields and actions, reacting to
// action execution, publishing data to subscribers — and back their
// durable state with preserved properties.
package devices
