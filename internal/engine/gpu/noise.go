package gpu

import "math"

// Deterministic 2D value noise. The arithmetic is float32 with a 32-bit integer
// lattice hash so the GLSL kernels in glcompute can mirror it exactly.

func hash2(x, z int32, seed uint32) uint32 {
	h := uint32(x)*0x8da6b343 ^ uint32(z)*0xd8163841 ^ seed*0xcb1ab31f
	h ^= h >> 16
	h *= 0x7feb352d
	h ^= h >> 15
	h *= 0x846ca68b
	h ^= h >> 16
	return h
}

// latticeValue maps a lattice point to [-1, 1].
func latticeValue(x, z int32, seed uint32) float32 {
	return float32(hash2(x, z, seed)&0xffffff)/float32(0xffffff)*2 - 1
}

// fade is the quintic smoothstep 6t^5 - 15t^4 + 10t^3.
func fade(t float32) float32 {
	return t * t * t * (t*(t*6-15) + 10)
}

func lerp(a, b, t float32) float32 {
	return a + t*(b-a)
}

func floor32(v float32) float32 {
	return float32(math.Floor(float64(v)))
}

func valueNoise(x, z float32, seed uint32) float32 {
	x0 := floor32(x)
	z0 := floor32(z)
	ix := int32(x0)
	iz := int32(z0)

	fx := fade(x - x0)
	fz := fade(z - z0)

	v00 := latticeValue(ix, iz, seed)
	v10 := latticeValue(ix+1, iz, seed)
	v01 := latticeValue(ix, iz+1, seed)
	v11 := latticeValue(ix+1, iz+1, seed)

	return lerp(lerp(v00, v10, fx), lerp(v01, v11, fx), fz)
}

// fbm sums octaves of value noise, normalised to [-1, 1].
func fbm(x, z float32, seed uint32, octaves int, lacunarity, gain float32) float32 {
	amplitude := float32(1)
	frequency := float32(1)
	var sum, norm float32
	for i := range octaves {
		sum += valueNoise(x*frequency, z*frequency, seed+uint32(i)*131) * amplitude
		norm += amplitude
		amplitude *= gain
		frequency *= lacunarity
	}
	if norm == 0 {
		return 0
	}
	return sum / norm
}

// SampleHeight evaluates the terrain height function at a world position in meters.
func SampleHeight(px, pz float32, p NoiseParams) float32 {
	if p.WarpStrength != 0 {
		wx := fbm(px*p.WarpFrequency, pz*p.WarpFrequency, p.Seed+1013, 2, 2, 0.5)
		wz := fbm(px*p.WarpFrequency+5.2, pz*p.WarpFrequency+1.3, p.Seed+7919, 2, 2, 0.5)
		px += wx * p.WarpStrength
		pz += wz * p.WarpStrength
	}
	n := fbm(px*p.Frequency, pz*p.Frequency, p.Seed, p.Octaves, p.Lacunarity, p.Gain)
	return p.BaseHeight + p.Amplitude*n
}

// BrushWeight returns the falloff weight of a texel at distance d from the
// brush centre: 1 inside (1-falloff)*radius, smoothstep to 0 at radius.
func BrushWeight(d, radius, falloff float32) float32 {
	if radius <= 0 || d >= radius {
		return 0
	}
	falloff = clamp01(falloff)
	inner := radius * (1 - falloff)
	if d <= inner {
		return 1
	}
	s := (radius - d) / (radius - inner)
	return s * s * (3 - 2*s)
}

func clamp01(v float32) float32 {
	if v < 0 {
		return 0
	}
	if v > 1 {
		return 1
	}
	return v
}
