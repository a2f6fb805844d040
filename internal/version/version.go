package version

// Current is the released version of enrichmon, without a "v" prefix.
const Current = "0.1.0"
