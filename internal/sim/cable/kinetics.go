package cable

import "math"

// Hodgkin-Huxley rate functions (1/ms) at 6.3 degC, v in mV.

// vtrap computes x/(exp(x/y)-1) without the singularity at x = 0.
func vtrap(x, y float64) float64 {
	if math.Abs(x/y) < 1e-6 {
		return y * (1 - x/y/2)
	}
	return x / (math.Exp(x/y) - 1)
}

func alphaM(v float64) float64 { return 0.1 * vtrap(-(v + 40), 10) }
func betaM(v float64) float64  { return 4 * math.Exp(-(v+65)/18) }
func alphaH(v float64) float64 { return 0.07 * math.Exp(-(v+65)/20) }
func betaH(v float64) float64  { return 1 / (math.Exp(-(v+35)/10) + 1) }
func alphaN(v float64) float64 { return 0.01 * vtrap(-(v + 55), 10) }
func betaN(v float64) float64  { return 0.125 * math.Exp(-(v+65)/80) }

// gate returns the steady state and time constant (ms) of a gate.
func gate(a, b, phi float64) (inf, tau float64) {
	sum := a + b
	return a / sum, 1 / (phi * sum)
}

// mGate returns the sodium activation gate, shifting the steady-state curve
// by sInf and the time-constant curve by sTau (mV).
func mGate(v, sInf, sTau, phi float64) (inf, tau float64) {
	inf, _ = gate(alphaM(v-sInf), betaM(v-sInf), phi)
	_, tau = gate(alphaM(v-sTau), betaM(v-sTau), phi)
	return inf, tau
}

// hGate returns the sodium inactivation gate with shifted curves.
func hGate(v, sInf, sTau, phi float64) (inf, tau float64) {
	inf, _ = gate(alphaH(v-sInf), betaH(v-sInf), phi)
	_, tau = gate(alphaH(v-sTau), betaH(v-sTau), phi)
	return inf, tau
}

func nGate(v, phi float64) (inf, tau float64) {
	return gate(alphaN(v), betaN(v), phi)
}

// napInf is the instantaneous activation of the persistent sodium current.
func napInf(v float64) float64 {
	return 1 / (1 + math.Exp(-(v+52.6)/4.6))
}

// relax advances a gate by dt with exponential Euler.
func relax(x, inf, tau, dt float64) float64 {
	return inf + (x-inf)*math.Exp(-dt/tau)
}
