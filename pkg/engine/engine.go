// Package engine holds the compiled-in identity of the Ember engine that the
// package and plugin subsystems check manifests and native libraries against.
package engine

// Version is the engine release version that package manifests constrain
// via their engineVersion requirement.
const Version = "0.4.0"

// PluginABIVersion is the native plugin ABI contract version. A dynamic
// library whose reported ABI version differs is rejected before any of its
// code that assumes engine type layouts can run.
const PluginABIVersion = 3
