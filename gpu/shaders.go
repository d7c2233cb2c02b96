package gpu

import "fmt"

// df64 carries one value as an unevaluated sum hi + lo of two f32 (WGSL has
// no f64). Addition is Knuth's two-sum followed by renormalisation, which
// keeps about 48 significand bits.
const df64Source = `
	fn two_sum(a: f32, b: f32) -> vec2<f32> {
		let s = a + b;
		let bb = s - a;
		let err = (a - (s - bb)) + (b - bb);
		return vec2<f32>(s, err);
	}

	fn quick_two_sum(a: f32, b: f32) -> vec2<f32> {
		let s = a + b;
		return vec2<f32>(s, b - (s - a));
	}

	fn df_add(a: vec2<f32>, b: vec2<f32>) -> vec2<f32> {
		let s = two_sum(a.x, b.x);
		let t = two_sum(a.y, b.y);
		let u = quick_two_sum(s.x, s.y + t.x);
		return quick_two_sum(u.x, u.y + t.y);
	}
`

// scanShader generates the block scan kernel: one workgroup per block,
// Hillis-Steele doubling rounds over a ping-pong workgroup array. The
// workgroupBarrier after every round keeps each round's reads on the
// previous round's values. The last lane stores the block total.
//
// Grids wider than the per-dimension limit are folded into y, so the block
// id is rebuilt from both workgroup coordinates.
func scanShader(blockSize int) string {
	return df64Source + fmt.Sprintf(`
		@group(0) @binding(0) var<storage, read> input : array<vec2<f32>>;
		@group(0) @binding(1) var<storage, read_write> output : array<vec2<f32>>;
		@group(0) @binding(2) var<storage, read_write> totals : array<vec2<f32>>;

		const BLOCK_SIZE: u32 = %du;

		var<workgroup> temp: array<vec2<f32>, %d>;

		@compute @workgroup_size(%d)
		fn main(
			@builtin(workgroup_id) wg_id: vec3<u32>,
			@builtin(num_workgroups) num_wg: vec3<u32>,
			@builtin(local_invocation_id) local_id: vec3<u32>
		) {
			let blk = wg_id.y * num_wg.x + wg_id.x;
			if (blk >= arrayLength(&input) / BLOCK_SIZE) {
				return;
			}
			let tid = local_id.x;
			let gid = blk * BLOCK_SIZE + tid;

			var wr: u32 = 0u;
			var rd: u32 = 1u;
			temp[tid] = input[gid];
			workgroupBarrier();

			for (var stride: u32 = 1u; stride < BLOCK_SIZE; stride = stride << 1u) {
				wr = 1u - wr;
				rd = 1u - wr;
				let prev = temp[rd * BLOCK_SIZE + tid];
				if (tid >= stride) {
					temp[wr * BLOCK_SIZE + tid] = df_add(prev, temp[rd * BLOCK_SIZE + tid - stride]);
				} else {
					temp[wr * BLOCK_SIZE + tid] = prev;
				}
				workgroupBarrier();
			}

			let v = temp[wr * BLOCK_SIZE + tid];
			output[gid] = v;
			if (tid == BLOCK_SIZE - 1u) {
				totals[blk] = v;
			}
		}
	`, blockSize, 2*blockSize, blockSize)
}

// addShader generates the block add kernel. Block b >= 1 receives the
// inclusive total of blocks 0..b-1, i.e. scanned[b-1]; block 0 is untouched.
func addShader(blockSize int) string {
	return df64Source + fmt.Sprintf(`
		@group(0) @binding(0) var<storage, read_write> data : array<vec2<f32>>;
		@group(0) @binding(1) var<storage, read> scanned : array<vec2<f32>>;

		const BLOCK_SIZE: u32 = %du;

		@compute @workgroup_size(%d)
		fn main(
			@builtin(workgroup_id) wg_id: vec3<u32>,
			@builtin(num_workgroups) num_wg: vec3<u32>,
			@builtin(local_invocation_id) local_id: vec3<u32>
		) {
			let blk = wg_id.y * num_wg.x + wg_id.x;
			if (blk == 0u || blk >= arrayLength(&data) / BLOCK_SIZE) {
				return;
			}
			let i = blk * BLOCK_SIZE + local_id.x;
			data[i] = df_add(data[i], scanned[blk - 1u]);
		}
	`, blockSize, blockSize)
}
