package frames

import (
	"math"
	"time"

	"github.com/soniakeys/meeus/v3/julian"
)

const (
	deg2rad    = math.Pi / 180.0
	rad2deg    = 180.0 / math.Pi
	arcsec2rad = deg2rad / 3600.0

	j2000JD = 2451545.0

	// Conversion factor: 0.1 microarcseconds to radians.
	tenthUas2Rad = arcsec2rad / 1e7

	// Earth rotation rate (rad/s), IERS conventions.
	EarthRotationRadS = 7.292115146706979e-5
)

// Mat3 is a 3x3 rotation matrix.
type Mat3 [3][3]float64

// Apply multiplies the matrix by a column vector.
func (m Mat3) Apply(v [3]float64) [3]float64 {
	return [3]float64{
		m[0][0]*v[0] + m[0][1]*v[1] + m[0][2]*v[2],
		m[1][0]*v[0] + m[1][1]*v[1] + m[1][2]*v[2],
		m[2][0]*v[0] + m[2][1]*v[1] + m[2][2]*v[2],
	}
}

// Mul composes two rotations: (m · other).
func (m Mat3) Mul(other Mat3) Mat3 {
	var out Mat3
	for i := 0; i < 3; i++ {
		for j := 0; j < 3; j++ {
			out[i][j] = m[i][0]*other[0][j] + m[i][1]*other[1][j] + m[i][2]*other[2][j]
		}
	}
	return out
}

// Transpose inverts a rotation.
func (m Mat3) Transpose() Mat3 {
	return Mat3{
		{m[0][0], m[1][0], m[2][0]},
		{m[0][1], m[1][1], m[2][1]},
		{m[0][2], m[1][2], m[2][2]},
	}
}

// rotZ builds a right-handed rotation about the Z axis by angle radians,
// rotating frame axes (R3 convention: positive angle rotates a vector's
// coordinates clockwise when seen from +Z).
func rotZ(angle float64) Mat3 {
	s, c := math.Sincos(angle)
	return Mat3{
		{c, s, 0},
		{-s, c, 0},
		{0, 0, 1},
	}
}

// JulianDate converts a UTC time to a Julian date.
func JulianDate(t time.Time) float64 {
	return julian.TimeToJD(t.UTC())
}

// julianCenturies returns Julian centuries from J2000 for a Julian date.
func julianCenturies(jd float64) float64 {
	return (jd - j2000JD) / 36525.0
}

// fundamentalArgs computes the Delaunay arguments for the IAU 2000 nutation
// series. T is Julian centuries from J2000. Returns l, l', F, D, Ω in
// radians (IERS Conventions 2003 Eq. 5.43).
func fundamentalArgs(T float64) (l, lp, F, D, om float64) {
	l = (485868.249036 + T*(1717915923.2178+T*(31.8792+T*(0.051635-T*0.00024470)))) * arcsec2rad
	lp = (1287104.79305 + T*(129596581.0481+T*(-0.5532+T*(0.000136+T*0.00001149)))) * arcsec2rad
	F = (335779.526232 + T*(1739527262.8478+T*(-12.7512+T*(-0.001037+T*0.00000417)))) * arcsec2rad
	D = (1072260.70369 + T*(1602961601.2090+T*(-6.3706+T*(0.006593-T*0.00003169)))) * arcsec2rad
	om = (450160.398036 + T*(-6962890.5431+T*(7.4722+T*(0.007702-T*0.00005939)))) * arcsec2rad
	return
}

// meanObliquity returns the mean obliquity of the ecliptic at date, radians.
func meanObliquity(T float64) float64 {
	return (84381.448 + T*(-46.8150+T*(-0.00059+T*0.001813))) * arcsec2rad
}

// nutationTerm is one row of the IAU 2000 luni-solar nutation series.
// Units for s, sdot, cp, c, cdot, sp: 0.1 microarcseconds.
type nutationTerm struct {
	nl, nlp, nf, nd, nom int
	s, sdot, cp          float64 // dpsi: (s + sdot*T)*sin(arg) + cp*cos(arg)
	c, cdot, sp          float64 // deps: (c + cdot*T)*cos(arg) + sp*sin(arg)
}

// The 30 largest IAU 2000 luni-solar nutation terms by dpsi amplitude
// (IERS Conventions 2003 Table 5.3a). Truncation error is about one
// arcsecond, far below the geometric tolerances of LEO link analysis.
var nutationTerms = []nutationTerm{
	{0, 0, 0, 0, 1, -172064161, -174666, 33386, 92052331, 9086, 15377},
	{0, 0, 2, -2, 2, -13170906, -1675, -13696, 5730336, -3015, -4587},
	{0, 0, 2, 0, 2, -2276413, -234, 2796, 978459, -485, 1374},
	{0, 0, 0, 0, 2, 2074554, 207, -698, -897492, 470, -291},
	{0, 1, 0, 0, 0, 1475877, -3633, 11817, 73871, -184, -1924},
	{1, 0, 0, 0, 0, 711159, 73, -872, -6750, 0, 358},
	{0, 1, 2, -2, 2, -516821, 1226, -524, 224386, -677, -174},
	{0, 0, 2, 0, 1, -387298, -367, 380, 200728, 18, 318},
	{1, 0, 2, 0, 2, -301461, -36, 816, 129025, -63, 367},
	{0, -1, 2, -2, 2, 215829, -494, 111, -95929, 299, 132},
	{-1, 0, 0, 2, 0, 156994, 10, -168, -1235, 0, 82},
	{0, 0, 2, -2, 1, 128227, 137, 181, -68982, -9, 39},
	{-1, 0, 2, 0, 2, 123457, 11, 19, -53311, 32, -4},
	{0, 0, 0, 2, 0, 63384, 11, -150, -1220, 0, 29},
	{1, 0, 0, 0, 1, 63110, 63, 27, -33228, 0, -9},
	{-1, 0, 2, 2, 2, -59641, -11, 149, 25543, -11, 66},
	{-1, 0, 0, 0, 1, -57976, -63, -189, 31429, 0, -75},
	{1, 0, 2, 0, 1, -51613, -42, 129, 26366, 0, 78},
	{-2, 0, 0, 2, 0, -47722, 0, -18, 477, 0, -25},
	{-2, 0, 2, 0, 1, 45893, 50, 31, -24236, -10, 20},
	{0, 0, 2, 2, 2, -38571, -1, 158, 16452, -11, 68},
	{0, -2, 2, -2, 2, 32481, 0, 0, -13870, 0, 0},
	{2, 0, 2, 0, 2, -31046, -1, 131, 13238, -11, 59},
	{2, 0, 0, 0, 0, 29243, 0, -74, -609, 0, 13},
	{1, 0, 2, -2, 2, 28593, 0, -1, -12338, 10, -3},
	{0, 0, 2, 0, 0, 25887, 0, -66, -550, 0, 11},
	{0, 0, -2, 2, 0, 21783, 0, 13, -167, 0, 13},
	{-1, 0, 2, 0, 1, 20441, 21, 10, -10758, 0, -3},
	{0, 2, 0, 0, 0, 16707, -85, -10, 168, -1, 10},
	{0, 2, 2, -2, 2, -15794, 72, -16, 6850, -42, -5},
}

// nutationAngles computes nutation in longitude and obliquity, radians.
func nutationAngles(T float64) (dpsiRad, depsRad float64) {
	l, lp, F, D, om := fundamentalArgs(T)

	var dpsi, deps float64
	for i := range nutationTerms {
		term := &nutationTerms[i]
		arg := float64(term.nl)*l + float64(term.nlp)*lp + float64(term.nf)*F +
			float64(term.nd)*D + float64(term.nom)*om
		sinArg, cosArg := math.Sincos(arg)
		dpsi += (term.s+term.sdot*T)*sinArg + term.cp*cosArg
		deps += (term.c+term.cdot*T)*cosArg + term.sp*sinArg
	}
	return dpsi * tenthUas2Rad, deps * tenthUas2Rad
}

// nutationMatrix returns N, transforming mean equator and equinox of date
// to the true equator and equinox of date.
func nutationMatrix(dpsiRad, depsRad, epsMRad float64) Mat3 {
	epsT := epsMRad + depsRad

	sinDpsi, cosDpsi := math.Sincos(dpsiRad)
	sinEpsM, cosEpsM := math.Sincos(epsMRad)
	sinEpsT, cosEpsT := math.Sincos(epsT)

	return Mat3{
		{cosDpsi, -sinDpsi * cosEpsM, -sinDpsi * sinEpsM},
		{sinDpsi * cosEpsT, cosDpsi*cosEpsM*cosEpsT + sinEpsM*sinEpsT, cosDpsi*sinEpsM*cosEpsT - cosEpsM*sinEpsT},
		{sinDpsi * sinEpsT, cosDpsi*cosEpsM*sinEpsT - sinEpsM*cosEpsT, cosDpsi*sinEpsM*sinEpsT + cosEpsM*cosEpsT},
	}
}

// precessionMatrix returns the IAU 2006 precession matrix P transforming
// J2000 (GCRS, frame bias neglected) to the mean equator and equinox of
// date: P = Rz(-z_A) · Ry(θ_A) · Rz(-ζ_A).
func precessionMatrix(T float64) Mat3 {
	zetaA := (2.650545 + 2306.083227*T + 0.2988499*T*T +
		0.01801828*T*T*T - 0.000005971*T*T*T*T) * arcsec2rad
	zA := (-2.650545 + 2306.077181*T + 1.0927348*T*T +
		0.01826837*T*T*T - 0.000028596*T*T*T*T) * arcsec2rad
	thetaA := (2004.191903*T - 0.4294934*T*T -
		0.04182264*T*T*T - 0.000007089*T*T*T*T) * arcsec2rad

	cosZeta, sinZeta := math.Cos(zetaA), math.Sin(zetaA)
	cosZ, sinZ := math.Cos(zA), math.Sin(zA)
	cosTheta, sinTheta := math.Cos(thetaA), math.Sin(thetaA)

	return Mat3{
		{cosZ*cosTheta*cosZeta - sinZ*sinZeta, -cosZ*cosTheta*sinZeta - sinZ*cosZeta, -cosZ * sinTheta},
		{sinZ*cosTheta*cosZeta + cosZ*sinZeta, -sinZ*cosTheta*sinZeta + cosZ*cosZeta, -sinZ * sinTheta},
		{sinTheta * cosZeta, -sinTheta * sinZeta, cosTheta},
	}
}

// GMST returns Greenwich Mean Sidereal Time in radians for a UT1 Julian
// date (IAU 1982 formula).
func GMST(jdUT1 float64) float64 {
	du := jdUT1 - j2000JD
	T := du / 36525.0
	gmstDeg := 280.46061837 + 360.98564736629*du +
		0.000387933*T*T - T*T*T/38710000.0
	gmst := math.Mod(gmstDeg*deg2rad, 2*math.Pi)
	if gmst < 0 {
		gmst += 2 * math.Pi
	}
	return gmst
}

// EarthRotationAngle returns the ERA in radians for a UT1 Julian date
// (IERS Conventions 2010 §5.5, IAU 2000 Resolution B1.8).
func EarthRotationAngle(jdUT1 float64) float64 {
	frac := math.Mod(jdUT1, 1.0)
	era := 2 * math.Pi * (0.7790572732640 + 0.00273781191135448*(jdUT1-j2000JD) + frac)
	era = math.Mod(era, 2*math.Pi)
	if era < 0 {
		era += 2 * math.Pi
	}
	return era
}

// equationOfEquinoxes returns GAST - GMST in radians.
func equationOfEquinoxes(T float64) float64 {
	dpsi, _ := nutationAngles(T)
	return dpsi * math.Cos(meanObliquity(T))
}

// GAST returns Greenwich Apparent Sidereal Time in radians.
func GAST(jdUT1 float64) float64 {
	gast := math.Mod(GMST(jdUT1)+equationOfEquinoxes(julianCenturies(jdUT1)), 2*math.Pi)
	if gast < 0 {
		gast += 2 * math.Pi
	}
	return gast
}

// polarMotionMatrix returns W transforming the terrestrial intermediate
// frame to ITRS: W = Rx(-y_p) · Ry(-x_p), with x_p, y_p in arcseconds
// (IERS Bulletin A values).
func polarMotionMatrix(xpArcsec, ypArcsec float64) Mat3 {
	xp := xpArcsec * arcsec2rad
	yp := ypArcsec * arcsec2rad
	sx, cx := math.Sincos(xp)
	sy, cy := math.Sincos(yp)
	// Exact composition; at <1" the difference from the small-angle form
	// is negligible but costs nothing.
	return Mat3{
		{cx, 0, sx},
		{sx * sy, cy, -cx * sy},
		{-sx * cy, sy, cx * cy},
	}
}
