/*

Process of compilation

Program Text ->
	parse ->
Abstract Syntax Tree (ast) ->
	check ->
Typed Tree + Symbol Table ->
	lower ->
Intermediate Representation (ir) ->
	emit ->
Object Image (obj)

Assembly Text ->
	assemble ->
Object Image (obj)

The vm loads object images and runs them directly.

*/
package compiler
