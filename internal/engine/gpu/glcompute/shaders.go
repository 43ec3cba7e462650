package glcompute

import (
	"github.com/Faultbox/terrastream/internal/engine/gpu"
	"github.com/Faultbox/terrastream/internal/engine/shader"
)

// Noise functions, kept in step with gpu.SampleHeight and gpu.BrushWeight.
const noiseGLSL = `
uniform uint uSeed;
uniform int uOctaves;
uniform float uLacunarity;
uniform float uGain;
uniform float uFrequency;
uniform float uAmplitude;
uniform float uBaseHeight;
uniform float uWarpFrequency;
uniform float uWarpStrength;

uint hash2(int x, int z, uint seed) {
    uint h = uint(x) * 0x8da6b343u ^ uint(z) * 0xd8163841u ^ seed * 0xcb1ab31fu;
    h ^= h >> 16;
    h *= 0x7feb352du;
    h ^= h >> 15;
    h *= 0x846ca68bu;
    h ^= h >> 16;
    return h;
}

float latticeValue(int x, int z, uint seed) {
    return float(hash2(x, z, seed) & 0xffffffu) / 16777215.0 * 2.0 - 1.0;
}

float fade(float t) {
    return t * t * t * (t * (t * 6.0 - 15.0) + 10.0);
}

float lerp(float a, float b, float t) {
    return a + t * (b - a);
}

float valueNoise(float x, float z, uint seed) {
    float x0 = floor(x);
    float z0 = floor(z);
    int ix = int(x0);
    int iz = int(z0);
    float fx = fade(x - x0);
    float fz = fade(z - z0);
    float v00 = latticeValue(ix, iz, seed);
    float v10 = latticeValue(ix + 1, iz, seed);
    float v01 = latticeValue(ix, iz + 1, seed);
    float v11 = latticeValue(ix + 1, iz + 1, seed);
    return lerp(lerp(v00, v10, fx), lerp(v01, v11, fx), fz);
}

float fbm(float x, float z, uint seed, int octaves, float lacunarity, float gain) {
    float amplitude = 1.0;
    float frequency = 1.0;
    float sum = 0.0;
    float norm = 0.0;
    for (int i = 0; i < octaves; i++) {
        sum += valueNoise(x * frequency, z * frequency, seed + uint(i) * 131u) * amplitude;
        norm += amplitude;
        amplitude *= gain;
        frequency *= lacunarity;
    }
    return norm == 0.0 ? 0.0 : sum / norm;
}

float sampleHeight(float px, float pz) {
    if (uWarpStrength != 0.0) {
        float wx = fbm(px * uWarpFrequency, pz * uWarpFrequency, uSeed + 1013u, 2, 2.0, 0.5);
        float wz = fbm(px * uWarpFrequency + 5.2, pz * uWarpFrequency + 1.3, uSeed + 7919u, 2, 2.0, 0.5);
        px += wx * uWarpStrength;
        pz += wz * uWarpStrength;
    }
    float n = fbm(px * uFrequency, pz * uFrequency, uSeed, uOctaves, uLacunarity, uGain);
    return uBaseHeight + uAmplitude * n;
}
`

const heightGLSL = `
layout(local_size_x = 8, local_size_y = 8) in;
layout(r32f, binding = 0) uniform image2D uTarget;

uniform ivec2 uTileOrigin;
uniform ivec2 uTileSize;
uniform ivec2 uOriginTexel;
uniform float uSpacing;

void main() {
    ivec2 local = ivec2(gl_GlobalInvocationID.xy);
    if (local.x >= uTileSize.x || local.y >= uTileSize.y) {
        return;
    }
    ivec2 g = uOriginTexel + local;
    float h = sampleHeight(float(g.x) * uSpacing, float(g.y) * uSpacing);
    imageStore(uTarget, uTileOrigin + local, vec4(h));
}
`

const normalGLSL = `
layout(local_size_x = 8, local_size_y = 8) in;
layout(r32f, binding = 0) readonly uniform image2D uHeight;
layout(rgba32f, binding = 1) writeonly uniform image2D uNormal;
layout(std430, binding = 0) readonly buffer Neighbours {
    int neighbours[];
};

uniform int uRes;
uniform int uTiles;
uniform float uSpacing;

bool heightAt(int t, int i, int j, out float h) {
    if (i < 0) {
        t = neighbours[t * 4 + 0];
        i = uRes - 2;
    } else if (i >= uRes) {
        t = neighbours[t * 4 + 1];
        i = 1;
    } else if (j < 0) {
        t = neighbours[t * 4 + 2];
        j = uRes - 2;
    } else if (j >= uRes) {
        t = neighbours[t * 4 + 3];
        j = 1;
    }
    if (t < 0) {
        h = 0.0;
        return false;
    }
    int tx = t % uTiles;
    int tz = t / uTiles;
    h = imageLoad(uHeight, ivec2(tx * uRes + i, tz * uRes + j)).r;
    return true;
}

float centralDiff(float c, float lo, float hi, bool hasLo, bool hasHi) {
    if (hasLo && hasHi) {
        return (hi - lo) / (2.0 * uSpacing);
    }
    if (hasHi) {
        return (hi - c) / uSpacing;
    }
    if (hasLo) {
        return (c - lo) / uSpacing;
    }
    return 0.0;
}

void main() {
    ivec2 p = ivec2(gl_GlobalInvocationID.xy);
    int size = uRes * uTiles;
    if (p.x >= size || p.y >= size) {
        return;
    }
    int t = (p.y / uRes) * uTiles + p.x / uRes;
    int i = p.x % uRes;
    int j = p.y % uRes;

    float c, l, r, b, f;
    heightAt(t, i, j, c);
    bool hasL = heightAt(t, i - 1, j, l);
    bool hasR = heightAt(t, i + 1, j, r);
    bool hasB = heightAt(t, i, j - 1, b);
    bool hasF = heightAt(t, i, j + 1, f);

    float dhdx = centralDiff(c, l, r, hasL, hasR);
    float dhdz = centralDiff(c, b, f, hasB, hasF);
    imageStore(uNormal, p, vec4(normalize(vec3(-dhdx, 1.0, -dhdz)), 0.0));
}
`

const brushGLSL = `
layout(local_size_x = 8, local_size_y = 8) in;
layout(r32f, binding = 0) uniform image2D uWrite;
layout(r32f, binding = 1) readonly uniform image2D uReadable;

uniform ivec2 uTileOrigin;
uniform ivec2 uTileSize;
uniform int uOp;
uniform vec2 uCenter;
uniform float uRadius;
uniform float uStrength;
uniform float uFalloff;
uniform float uDT;
uniform float uTarget;

float brushWeight(float d, float radius, float falloff) {
    if (radius <= 0.0 || d >= radius) {
        return 0.0;
    }
    float inner = radius * (1.0 - clamp(falloff, 0.0, 1.0));
    if (d <= inner) {
        return 1.0;
    }
    float s = (radius - d) / (radius - inner);
    return s * s * (3.0 - 2.0 * s);
}

float tileMean(ivec2 local) {
    float sum = 0.0;
    int n = 0;
    for (int dz = -1; dz <= 1; dz++) {
        for (int dx = -1; dx <= 1; dx++) {
            ivec2 q = local + ivec2(dx, dz);
            if (q.x < 0 || q.y < 0 || q.x >= uTileSize.x || q.y >= uTileSize.y) {
                continue;
            }
            sum += imageLoad(uReadable, uTileOrigin + q).r;
            n++;
        }
    }
    return sum / float(n);
}

void main() {
    ivec2 local = ivec2(gl_GlobalInvocationID.xy);
    if (local.x >= uTileSize.x || local.y >= uTileSize.y) {
        return;
    }
    float w = brushWeight(distance(vec2(local), uCenter), uRadius, uFalloff);
    if (w == 0.0) {
        return;
    }
    ivec2 p = uTileOrigin + local;
    float cur = imageLoad(uWrite, p).r;
    float amount = uStrength * w * uDT;
    if (uOp == 0) {
        cur += amount;
    } else if (uOp == 1) {
        cur -= amount;
    } else if (uOp == 2) {
        cur = lerp(cur, tileMean(local), clamp(amount, 0.0, 1.0));
    } else {
        cur = lerp(cur, uTarget, clamp(amount, 0.0, 1.0));
    }
    imageStore(uWrite, p, vec4(cur));
}
`

const stitchGLSL = `
layout(local_size_x = 64) in;
layout(r32f, binding = 0) uniform image2D uTarget;

uniform ivec2 uA;
uniform ivec2 uB;
uniform int uN;
uniform int uAxis;

void main() {
    int k = int(gl_GlobalInvocationID.x);
    if (k >= uN) {
        return;
    }
    ivec2 a;
    ivec2 b;
    if (uAxis == 0) {
        a = uA + ivec2(uN - 1, k);
        b = uB + ivec2(0, k);
    } else {
        a = uA + ivec2(k, uN - 1);
        b = uB + ivec2(k, 0);
    }
    float avg = (imageLoad(uTarget, a).r + imageLoad(uTarget, b).r) * 0.5;
    imageStore(uTarget, a, vec4(avg));
    imageStore(uTarget, b, vec4(avg));
}
`

// sources returns the full compute source of every program.
func sources() map[gpu.Program]string {
	return map[gpu.Program]string{
		gpu.ProgramHeight: shader.Version + noiseGLSL + heightGLSL,
		gpu.ProgramNormal: shader.Version + normalGLSL,
		gpu.ProgramBrush:  shader.Version + "float lerp(float a, float b, float t) { return a + t * (b - a); }\n" + brushGLSL,
		gpu.ProgramStitch: shader.Version + stitchGLSL,
	}
}
