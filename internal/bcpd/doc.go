// Package bcpd drives the external BCPD executable (Bayesian Coherent
// Point Drift) as the default non-rigid solver. Each call writes its
// inputs to a private scratch directory, runs the binary there, parses
// the output files and removes the directory again.
package bcpd
